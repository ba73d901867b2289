// Package config loads and validates SmartAC Core configuration.
//
// Configuration comes from three layers, later layers overriding earlier
// ones: hardcoded defaults, a YAML file, and SMARTAC_* environment
// variables. Secrets (broker password, InfluxDB token) should always be
// supplied via the environment rather than the file.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
