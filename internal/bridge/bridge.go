// Package bridge defines the contract between the variable broker and the
// transport that carries client data areas between this process and the
// simulator host.
package bridge

import (
	"errors"
	"fmt"
)

// AreaID identifies a client data area once its name has been mapped.
type AreaID uint32

// DefineID identifies a client data definition. The broker uses variable
// ids as definition ids, so a data callback carries the owning variable id.
type DefineID uint32

const (
	// LVarsAreaName is the shared data area the host publishes values into.
	LVarsAreaName = "MobiFlight.LVars"
	// CommandAreaName is the shared area clients write text commands into.
	CommandAreaName = "MobiFlight.Command"

	LVarsArea   AreaID = 0
	CommandArea AreaID = 1

	// LVarsAreaSize holds 8192 float slots.
	LVarsAreaSize = 32768
	// CommandFrameSize is the fixed width of every command frame.
	CommandFrameSize = 512

	// SlotWidth is the width of one published value (float32).
	SlotWidth = 4
)

var (
	ErrAreaExists  = errors.New("client data area already exists")
	ErrSlotExists  = errors.New("data definition already exists")
	ErrUnknownArea = errors.New("client data area not mapped")
	ErrClosed      = errors.New("transport closed")
)

// DataHandler receives one published data frame. Transports invoke it from
// a single delivery goroutine.
type DataHandler func(id DefineID, raw []byte)

// Transport is the low-level bridge SDK surface consumed by the broker.
type Transport interface {
	MapName(name string, area AreaID) error
	CreateArea(area AreaID, size int) error
	DefineSlot(id DefineID, offset, width int) error
	RequestDelivery(area AreaID, id DefineID) error
	WriteCommand(area AreaID, frame []byte) error
	SetDataHandler(fn DataHandler)
	Close() error
}

// SlotOffset returns the byte offset of the slot bound to id.
func SlotOffset(id DefineID) int {
	return (int(id) - 1) * SlotWidth
}

// Setup maps and creates the data and command areas. Both steps are
// idempotent on the host, so callers normally log the returned error and
// carry on.
func Setup(t Transport) error {
	var errs []error
	if err := t.MapName(LVarsAreaName, LVarsArea); err != nil {
		errs = append(errs, fmt.Errorf("mapping %s: %w", LVarsAreaName, err))
	}
	if err := t.CreateArea(LVarsArea, LVarsAreaSize); err != nil {
		errs = append(errs, fmt.Errorf("creating %s: %w", LVarsAreaName, err))
	}
	if err := t.MapName(CommandAreaName, CommandArea); err != nil {
		errs = append(errs, fmt.Errorf("mapping %s: %w", CommandAreaName, err))
	}
	if err := t.CreateArea(CommandArea, CommandFrameSize); err != nil {
		errs = append(errs, fmt.Errorf("creating %s: %w", CommandAreaName, err))
	}
	return errors.Join(errs...)
}
