// Package maccommand implements the end-device side of the LoRaWAN
// mac-commands: the uplink command buffer, the parsing of the downlink
// commands and the per command handlers.
package maccommand

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// Parse parses the given downlink mac-command bytes into blocks of
// consecutive commands sharing the same CID. On an unknown CID or a truncated
// payload, the blocks parsed so far are returned together with the error.
func Parse(b []byte) ([]Block, error) {
	var out []Block

	for len(b) > 0 {
		cid := lorawan.CID(b[0])
		size, ok := downlinkSizes[cid]
		if !ok {
			return out, errors.Wrapf(ErrUnknownCID, "cid %s", cid)
		}
		if len(b) < 1+size {
			return out, errors.Wrapf(ErrTruncated, "cid %s", cid)
		}

		cmd := lorawan.MACCommand{
			CID: cid,
		}

		if size > 0 {
			pl, err := payloadForCID(cid)
			if err != nil {
				return out, errors.Wrap(err, "get payload error")
			}
			pb := make([]byte, size)
			copy(pb, b[1:1+size])
			if err := pl.UnmarshalBinary(pb); err != nil {
				return out, errors.Wrapf(err, "unmarshal %s payload error", cid)
			}
			cmd.Payload = pl
		}

		if len(out) > 0 && out[len(out)-1].CID == cid {
			out[len(out)-1].MACCommands = append(out[len(out)-1].MACCommands, cmd)
		} else {
			out = append(out, Block{
				CID:         cid,
				MACCommands: []lorawan.MACCommand{cmd},
			})
		}

		b = b[1+size:]
	}

	return out, nil
}

func payloadForCID(cid lorawan.CID) (lorawan.MACCommandPayload, error) {
	if _, ok := rawDownlink[cid]; ok {
		return &lorawan.ProprietaryMACCommandPayload{}, nil
	}

	pl, _, err := lorawan.GetMACPayloadAndSize(false, cid)
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// Process parses and handles the given downlink mac-commands. The commands
// parsed before an invalid command are still handled; the parse error is
// returned after handling them.
func Process(ctx context.Context, dev Device, b []byte) error {
	blocks, parseErr := Parse(b)

	for _, block := range blocks {
		if err := Handle(ctx, dev, block); err != nil {
			log.WithFields(log.Fields{
				"cid":    block.CID,
				"ctx_id": ctx.Value(logging.ContextIDKey),
			}).WithError(err).Warning("maccommand: handle mac-command block error")
		}
	}

	if parseErr != nil {
		log.WithFields(log.Fields{
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).WithError(parseErr).Warning("maccommand: remaining mac-commands skipped")
	}

	return parseErr
}

// Handle handles a mac-command block received from the network.
func Handle(ctx context.Context, dev Device, block Block) error {
	if len(block.MACCommands) == 0 {
		return errors.New("empty mac-command block")
	}

	// LinkADRReq is the only command handled as a block
	if block.CID == lorawan.LinkADRReq {
		return handleLinkADRReq(ctx, dev, block)
	}

	for _, cmd := range block.MACCommands {
		if err := handle(ctx, dev, cmd); err != nil {
			return err
		}
	}
	return nil
}

func handle(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	switch cmd.CID {
	case lorawan.LinkCheckAns:
		return handleLinkCheckAns(ctx, dev, cmd)
	case lorawan.DutyCycleReq:
		return handleDutyCycleReq(ctx, dev, cmd)
	case lorawan.RXParamSetupReq:
		return handleRXParamSetupReq(ctx, dev, cmd)
	case lorawan.DevStatusReq:
		return handleDevStatusReq(ctx, dev)
	case lorawan.NewChannelReq:
		return handleNewChannelReq(ctx, dev, cmd)
	case lorawan.RXTimingSetupReq:
		return handleRXTimingSetupReq(ctx, dev, cmd)
	case lorawan.TXParamSetupReq:
		return handleTXParamSetupReq(ctx, dev, cmd)
	case DLChannelReq:
		return handleDLChannelReq(ctx, dev, cmd)
	case ADRParamSetupReq:
		return handleADRParamSetupReq(ctx, dev, cmd)
	case lorawan.DeviceTimeAns:
		return handleDeviceTimeAns(ctx, dev, cmd)
	case ForceRejoinReq:
		return handleForceRejoinReq(ctx, dev, cmd)
	case lorawan.RejoinParamSetupReq:
		return handleRejoinParamSetupReq(ctx, dev, cmd)
	case lorawan.ResetConf:
		return handleResetConf(ctx, dev, cmd)
	case lorawan.RekeyConf:
		return handleRekeyConf(ctx, dev, cmd)
	case lorawan.DeviceModeConf:
		return handleDeviceModeConf(ctx, dev, cmd)
	case lorawan.PingSlotInfoAns:
		return handlePingSlotInfoAns(ctx, dev)
	case lorawan.PingSlotChannelReq:
		return handlePingSlotChannelReq(ctx, dev, cmd)
	case BeaconTimingAns:
		return handleBeaconTimingAns(ctx, dev, cmd)
	case BeaconFreqReq:
		return handleBeaconFreqReq(ctx, dev, cmd)
	default:
		return fmt.Errorf("undefined CID %d", cmd.CID)
	}
}

// addAnswer marshals the given mac-command and adds it to the buffer.
func addAnswer(dev Device, cmd lorawan.MACCommand) error {
	b, err := cmd.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "marshal mac-command error")
	}
	if err := dev.Buffer().Add(cmd.CID, b[1:]); err != nil {
		return errors.Wrap(err, "add mac-command error")
	}
	return nil
}

func rawPayload(cmd lorawan.MACCommand, size int) ([]byte, error) {
	pl, ok := cmd.Payload.(*lorawan.ProprietaryMACCommandPayload)
	if !ok {
		return nil, fmt.Errorf("expected *lorawan.ProprietaryMACCommandPayload, got %T", cmd.Payload)
	}
	if len(pl.Bytes) != size {
		return nil, errors.Wrapf(ErrInvalidSize, "expected %d bytes, got %d", size, len(pl.Bytes))
	}
	return pl.Bytes, nil
}
