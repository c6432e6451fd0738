// Package adr defines the interface of the end-device ADR algorithm and the
// go-plugin RPC glue to implement it as an external plugin.
package adr

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// HandshakeConfig for ADR plugins.
var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DEVICE_ADR_PLUGIN",
	MagicCookieValue: "DEVICE_ADR_PLUGIN",
}

// Handler defines the ADR handler interface.
type Handler interface {
	ID() (string, error)
	Name() (string, error)
	CalcNext(CalcNextRequest) (CalcNextResponse, error)
}

// CalcNextRequest implements the ADR calc-next request. It is handled
// before every uplink.
type CalcNextRequest struct {
	// Region name.
	Region string

	// LoRaWAN version of the device.
	Version string

	// AdrEnabled defines if the device has ADR enabled.
	AdrEnabled bool

	// UplinkDwellTime defines if the uplink dwell-time limit is active.
	UplinkDwellTime bool

	// Datarate holds the current uplink data-rate.
	Datarate int

	// TxPower holds the current tx-power index.
	TxPower int

	// NbTrans holds the current number of transmissions.
	NbTrans int

	// AdrAckCounter holds the number of uplinks since the last downlink.
	AdrAckCounter uint32

	// AdrAckLimit and AdrAckDelay define the ADR back-off.
	AdrAckLimit uint16
	AdrAckDelay uint16

	// MinTxDatarate defines the min. allowed uplink data-rate.
	MinTxDatarate int

	// DefaultTxPower defines the default tx-power index.
	DefaultTxPower int
}

// CalcNextResponse implements the ADR calc-next response.
type CalcNextResponse struct {
	// Datarate holds the data-rate of the next uplink.
	Datarate int

	// TxPower holds the tx-power index of the next uplink.
	TxPower int

	// NbTrans holds the number of transmissions of the next uplink.
	NbTrans int

	// AdrAckReq defines if the ADRACKReq bit must be set.
	AdrAckReq bool

	// RestoreDefaultChannels defines if the default channels must be
	// re-enabled.
	RestoreDefaultChannels bool
}

// HandlerRPCServer implements the RPC server for the Handler interface.
type HandlerRPCServer struct {
	// Impl holds the interface implementation.
	Impl Handler
}

func (s *HandlerRPCServer) ID(req interface{}, resp *string) error {
	var err error
	*resp, err = s.Impl.ID()
	return err
}

func (s *HandlerRPCServer) Name(req interface{}, resp *string) error {
	var err error
	*resp, err = s.Impl.Name()
	return err
}

func (s *HandlerRPCServer) CalcNext(req CalcNextRequest, resp *CalcNextResponse) error {
	var err error
	*resp, err = s.Impl.CalcNext(req)
	return err
}

// HandlerRPC implements the RPC client for the Handler interface.
type HandlerRPC struct {
	client *rpc.Client
}

func (r *HandlerRPC) ID() (string, error) {
	var resp string
	err := r.client.Call("Plugin.ID", new(interface{}), &resp)
	return resp, err
}

func (r *HandlerRPC) Name() (string, error) {
	var resp string
	err := r.client.Call("Plugin.Name", new(interface{}), &resp)
	return resp, err
}

func (r *HandlerRPC) CalcNext(req CalcNextRequest) (CalcNextResponse, error) {
	var resp CalcNextResponse
	err := r.client.Call("Plugin.CalcNext", req, &resp)
	return resp, err
}

// HandlerPlugin implements plugin.Plugin.
type HandlerPlugin struct {
	// Impl holds the interface implementation.
	Impl Handler
}

func (p *HandlerPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &HandlerRPCServer{Impl: p.Impl}, nil
}

func (p *HandlerPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &HandlerRPC{client: c}, nil
}
