package adr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-device-mac/adr"
)

func TestDefaultHandler(t *testing.T) {
	h := &DefaultHandler{}

	t.Run("ID", func(t *testing.T) {
		assert := require.New(t)
		id, err := h.ID()
		assert.NoError(err)
		assert.Equal("default", id)
	})

	t.Run("CalcNext", func(t *testing.T) {
		req := adr.CalcNextRequest{
			Region:         "EU868",
			AdrEnabled:     true,
			Datarate:       5,
			TxPower:        3,
			NbTrans:        2,
			AdrAckLimit:    64,
			AdrAckDelay:    32,
			MinTxDatarate:  0,
			DefaultTxPower: 0,
		}

		tests := []struct {
			Name     string
			Request  func(adr.CalcNextRequest) adr.CalcNextRequest
			Expected adr.CalcNextResponse
		}{
			{
				Name: "adr disabled",
				Request: func(r adr.CalcNextRequest) adr.CalcNextRequest {
					r.AdrEnabled = false
					r.AdrAckCounter = 200
					return r
				},
				Expected: adr.CalcNextResponse{Datarate: 5, TxPower: 3, NbTrans: 2},
			},
			{
				Name: "below ack limit",
				Request: func(r adr.CalcNextRequest) adr.CalcNextRequest {
					r.AdrAckCounter = 63
					return r
				},
				Expected: adr.CalcNextResponse{Datarate: 5, TxPower: 3, NbTrans: 2},
			},
			{
				Name: "ack limit reached",
				Request: func(r adr.CalcNextRequest) adr.CalcNextRequest {
					r.AdrAckCounter = 64
					return r
				},
				Expected: adr.CalcNextResponse{Datarate: 5, TxPower: 3, NbTrans: 2, AdrAckReq: true},
			},
			{
				Name: "ack limit + delay reached resets tx-power",
				Request: func(r adr.CalcNextRequest) adr.CalcNextRequest {
					r.AdrAckCounter = 96
					return r
				},
				Expected: adr.CalcNextResponse{Datarate: 5, TxPower: 0, NbTrans: 2, AdrAckReq: true},
			},
			{
				Name: "data-rate is kept before ack limit + 2 x delay",
				Request: func(r adr.CalcNextRequest) adr.CalcNextRequest {
					r.AdrAckCounter = 127
					return r
				},
				Expected: adr.CalcNextResponse{Datarate: 5, TxPower: 0, NbTrans: 2, AdrAckReq: true},
			},
			{
				Name: "ack limit + 2 x delay lowers the data-rate",
				Request: func(r adr.CalcNextRequest) adr.CalcNextRequest {
					r.AdrAckCounter = 128
					return r
				},
				Expected: adr.CalcNextResponse{Datarate: 4, TxPower: 0, NbTrans: 2, AdrAckReq: true},
			},
			{
				Name: "data-rate is only lowered every delay",
				Request: func(r adr.CalcNextRequest) adr.CalcNextRequest {
					r.AdrAckCounter = 129
					return r
				},
				Expected: adr.CalcNextResponse{Datarate: 5, TxPower: 0, NbTrans: 2, AdrAckReq: true},
			},
			{
				Name: "next delay lowers the data-rate",
				Request: func(r adr.CalcNextRequest) adr.CalcNextRequest {
					r.AdrAckCounter = 160
					r.Datarate = 4
					return r
				},
				Expected: adr.CalcNextResponse{Datarate: 3, TxPower: 0, NbTrans: 2, AdrAckReq: true},
			},
			{
				Name: "min. data-rate restores the default channels",
				Request: func(r adr.CalcNextRequest) adr.CalcNextRequest {
					r.AdrAckCounter = 320
					r.Datarate = 0
					return r
				},
				Expected: adr.CalcNextResponse{Datarate: 0, TxPower: 0, NbTrans: 1, AdrAckReq: true, RestoreDefaultChannels: true},
			},
			{
				Name: "data-rate below min. tx data-rate",
				Request: func(r adr.CalcNextRequest) adr.CalcNextRequest {
					r.Datarate = 0
					r.MinTxDatarate = 2
					return r
				},
				Expected: adr.CalcNextResponse{Datarate: 2, TxPower: 3, NbTrans: 2},
			},
			{
				Name: "zero ack delay",
				Request: func(r adr.CalcNextRequest) adr.CalcNextRequest {
					r.AdrAckCounter = 64
					r.AdrAckDelay = 0
					return r
				},
				Expected: adr.CalcNextResponse{Datarate: 5, TxPower: 0, NbTrans: 2, AdrAckReq: true},
			},
		}

		for _, tst := range tests {
			t.Run(tst.Name, func(t *testing.T) {
				assert := require.New(t)

				resp, err := h.CalcNext(tst.Request(req))
				assert.NoError(err)
				assert.Equal(tst.Expected, resp)
			})
		}
	})
}
