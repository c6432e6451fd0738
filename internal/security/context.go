package security

import (
	"fmt"

	"github.com/brocaar/lorawan"
)

// FCntDownInitialValue is the value of a downlink counter which has not yet
// received a frame.
const FCntDownInitialValue = 0xffffffff

// Version holds a LoRaWAN version.
type Version struct {
	Major    uint8
	Minor    uint8
	Revision uint8
}

// Supported LoRaWAN versions.
var (
	LoRaWAN1_0_4 = Version{Major: 1, Minor: 0, Revision: 4}
	LoRaWAN1_1_1 = Version{Major: 1, Minor: 1, Revision: 1}
)

// Value returns the version as 0xMMmmrr00.
func (v Version) Value() uint32 {
	return uint32(v.Major)<<24 | uint32(v.Minor)<<16 | uint32(v.Revision)<<8
}

// Is11 returns true for LoRaWAN 1.1.x.
func (v Version) Is11() bool {
	return v.Major == 1 && v.Minor == 1
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// FCntID identifies a frame-counter.
type FCntID int

// Frame-counter identifiers.
const (
	FCntUp FCntID = iota
	NFCntDown
	AFCntDown
	FCntDown
	McFCntDown0
	McFCntDown1
	McFCntDown2
	McFCntDown3
)

// AddrID identifies an address slot.
type AddrID int

// Address identifiers.
const (
	Multicast0Addr AddrID = iota
	Multicast1Addr
	Multicast2Addr
	Multicast3Addr
	UnicastDevAddr
)

// McFCntIDForAddrID returns the multicast downlink counter identifier.
func McFCntIDForAddrID(id AddrID) FCntID {
	return McFCntDown0 + FCntID(id)
}

// FCntList holds the frame-counters.
type FCntList struct {
	FCntUp     uint32
	NFCntDown  uint32
	AFCntDown  uint32
	FCntDown   uint32
	McFCntDown [4]uint32
}

// Context holds the persistable security state.
type Context struct {
	LrWanVersion Version
	DevNonce     uint16
	JoinNonce    uint32
	FCntList     FCntList
	LastDownFCnt uint32
	RJcount1     uint16
	McAddr       [4]lorawan.DevAddr

	// RJcount0 is reset on every successful join-accept and on every
	// RekeyConf.
	RJcount0 uint16
}

// NewContext returns a Context with the initial counter values.
func NewContext() Context {
	c := Context{
		LrWanVersion: LoRaWAN1_1_1,
	}
	c.resetFCnts()
	return c
}

func (c *Context) resetFCnts() {
	c.FCntList.FCntUp = 0
	c.FCntList.NFCntDown = FCntDownInitialValue
	c.FCntList.AFCntDown = FCntDownInitialValue
	c.FCntList.FCntDown = FCntDownInitialValue
	c.LastDownFCnt = FCntDownInitialValue
	c.RJcount0 = 0
	for i := range c.FCntList.McFCntDown {
		c.FCntList.McFCntDown[i] = FCntDownInitialValue
	}
}

func (c *Context) lastFCntDown(id FCntID) (uint32, error) {
	switch id {
	case NFCntDown:
		return c.FCntList.NFCntDown, nil
	case AFCntDown:
		return c.FCntList.AFCntDown, nil
	case FCntDown:
		return c.FCntList.FCntDown, nil
	case McFCntDown0, McFCntDown1, McFCntDown2, McFCntDown3:
		return c.FCntList.McFCntDown[id-McFCntDown0], nil
	default:
		return 0, ErrFCntID
	}
}

func (c *Context) setFCntDown(id FCntID, v uint32) error {
	switch id {
	case NFCntDown:
		c.FCntList.NFCntDown = v
	case AFCntDown:
		c.FCntList.AFCntDown = v
	case FCntDown:
		c.FCntList.FCntDown = v
	case McFCntDown0, McFCntDown1, McFCntDown2, McFCntDown3:
		c.FCntList.McFCntDown[id-McFCntDown0] = v
	default:
		return ErrFCntID
	}
	return nil
}
