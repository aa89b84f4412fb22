// Package config loads and validates the gateway configuration.
//
// Configuration is YAML with ${VAR_NAME} environment expansion and
// duration-string fields (e.g. save_debounce: 2s). Missing fields fall back
// to the defaults in Default, so a minimal deployment only sets what it
// changes:
//
//	server:
//	  http_addr: ":8382"
//	storage:
//	  backend: file
//	  path: data/conversations
package config
