// Package config handles loading and validating MultiCam Core configuration.
//
// This package manages:
//   - Loading the process configuration from a YAML file
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//   - Watching the file for changes (hot reload of the camera list)
//
// The camera and button sections of the same file are not decoded here;
// they belong to the fleet package, which degrades per entry instead of
// failing the whole load.
//
// Security Considerations:
//   - Camera and broker passwords should be set via environment variables
//     or a file with restricted permissions (0600)
//   - An empty security.jwt.secret disables API authentication
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Settings.Port)
package config
