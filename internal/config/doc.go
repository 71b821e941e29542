// Package config loads and validates syncline.yaml.
//
// The configuration file describes the server listener, session tuning,
// the resume window, and the session persistence backend. Every field is
// optional; Load fills defaults that match pkg/server's DefaultSessionConfig
// and friends, so an empty file is a valid configuration.
//
// Example syncline.yaml:
//
//	server:
//	  address: ":8080"
//	  shutdown_timeout: 30s
//	session:
//	  idle_timeout: 5m
//	  max_delta_history: 100
//	manager:
//	  max_sessions: 10000
//	  resume_window: 5m
//	store:
//	  backend: redis
//	  redis:
//	    addr: localhost:6379
//	    prefix: "syncline:"
package config
