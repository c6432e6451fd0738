// Package adr implements the registry of the ADR handlers: the default
// handler and the handlers loaded from external plugins.
package adr

import (
	"os/exec"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/adr"
)

// ErrHandlerNotFound is returned for an unknown handler ID.
var ErrHandlerNotFound = errors.New("adr: handler not found")

var (
	mux      sync.RWMutex
	handlers map[string]adr.Handler
	clients  []*plugin.Client
)

func init() {
	handlers = map[string]adr.Handler{
		"default": &DefaultHandler{},
	}
}

// Setup loads the ADR plugins. The plugins are registered by the ID they
// return.
func Setup(pluginPaths []string) error {
	mux.Lock()
	defer mux.Unlock()

	logger := hclog.New(&hclog.LoggerOptions{
		Output: log.StandardLogger().Writer(),
		Level:  hclog.Trace,
	})

	for _, pluginPath := range pluginPaths {
		client := plugin.NewClient(&plugin.ClientConfig{
			HandshakeConfig: adr.HandshakeConfig,
			Plugins: map[string]plugin.Plugin{
				"handler": &adr.HandlerPlugin{},
			},
			Cmd:    exec.Command(pluginPath),
			Logger: logger,
		})

		rpcClient, err := client.Client()
		if err != nil {
			client.Kill()
			return errors.Wrap(err, "get adr plugin client error")
		}

		raw, err := rpcClient.Dispense("handler")
		if err != nil {
			client.Kill()
			return errors.Wrap(err, "dispense adr plugin error")
		}

		handler, ok := raw.(adr.Handler)
		if !ok {
			client.Kill()
			return errors.New("adr plugin does not implement the adr.Handler interface")
		}

		id, err := handler.ID()
		if err != nil {
			client.Kill()
			return errors.Wrap(err, "get adr plugin id error")
		}

		name, err := handler.Name()
		if err != nil {
			client.Kill()
			return errors.Wrap(err, "get adr plugin name error")
		}

		handlers[id] = handler
		clients = append(clients, client)

		log.WithFields(log.Fields{
			"id":   id,
			"name": name,
			"path": pluginPath,
		}).Info("adr: adr plugin loaded")
	}

	return nil
}

// Teardown stops the plugin processes.
func Teardown() {
	mux.Lock()
	defer mux.Unlock()

	for _, c := range clients {
		c.Kill()
	}
	clients = nil
}

// GetHandler returns the handler for the given ID.
func GetHandler(id string) (adr.Handler, error) {
	mux.RLock()
	defer mux.RUnlock()

	h, ok := handlers[id]
	if !ok {
		return nil, ErrHandlerNotFound
	}
	return h, nil
}

// GetHandlers returns the IDs and names of the registered handlers.
func GetHandlers() (map[string]string, error) {
	mux.RLock()
	defer mux.RUnlock()

	out := make(map[string]string)
	for id, h := range handlers {
		name, err := h.Name()
		if err != nil {
			return nil, errors.Wrap(err, "get name error")
		}
		out[id] = name
	}
	return out, nil
}
