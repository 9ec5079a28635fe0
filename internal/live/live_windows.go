//go:build windows

package live

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/apexdata/pitwall/internal/pitwallerr"
)

const (
	sharedMemoryName = "Local\\IRSDKMemMapFileName"
	updateEventName  = "Local\\IRSDKDataValidEvent"

	// mappedSize is large enough to cover the header, every variable
	// header, the session info blob, and all four telemetry buffers for
	// any session the simulator produces.
	mappedSize = 1164 * 1024
)

func init() {
	platformAttach = newWindowsAttachment
}

// windowsAttachment maps the simulator's named shared-memory segment and
// opens its auto-reset update event.
type windowsAttachment struct {
	mapping windows.Handle
	event   windows.Handle
	addr    uintptr
}

func newWindowsAttachment() (attachment, error) {
	namePtr, err := windows.UTF16PtrFromString(sharedMemoryName)
	if err != nil {
		return nil, pitwallerr.New(pitwallerr.Connection, "invalid shared memory name", err)
	}

	mapping, err := windows.OpenFileMapping(windows.FILE_MAP_READ, false, namePtr)
	if err != nil {
		return nil, pitwallerr.New(pitwallerr.Connection, "simulator shared memory not found", err)
	}

	addr, err := windows.MapViewOfFile(mapping, windows.FILE_MAP_READ, 0, 0, uintptr(mappedSize))
	if err != nil {
		windows.CloseHandle(mapping)
		return nil, pitwallerr.New(pitwallerr.Connection, "failed to map simulator shared memory view", err)
	}

	eventNamePtr, err := windows.UTF16PtrFromString(updateEventName)
	if err != nil {
		windows.UnmapViewOfFile(addr)
		windows.CloseHandle(mapping)
		return nil, pitwallerr.New(pitwallerr.Connection, "invalid update event name", err)
	}

	event, err := windows.OpenEvent(windows.SYNCHRONIZE, false, eventNamePtr)
	if err != nil {
		windows.UnmapViewOfFile(addr)
		windows.CloseHandle(mapping)
		return nil, pitwallerr.New(pitwallerr.Connection, "simulator update event not found", err)
	}

	return &windowsAttachment{mapping: mapping, event: event, addr: addr}, nil
}

// Base returns a view over the mapped shared memory segment. The base
// pointer is guaranteed non-null once attach succeeds.
func (w *windowsAttachment) Base() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(w.addr)), mappedSize)
}

// WaitUpdate waits on the simulator's auto-reset update event.
func (w *windowsAttachment) WaitUpdate(timeout time.Duration) bool {
	ms := uint32(timeout / time.Millisecond)
	result, err := windows.WaitForSingleObject(w.event, ms)
	if err != nil {
		return false
	}
	return result == windows.WAIT_OBJECT_0
}

// Close unmaps the view and closes both handles.
func (w *windowsAttachment) Close() error {
	var firstErr error
	if err := windows.UnmapViewOfFile(w.addr); err != nil {
		firstErr = fmt.Errorf("live: unmap view: %w", err)
	}
	if err := windows.CloseHandle(w.event); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("live: close event handle: %w", err)
	}
	if err := windows.CloseHandle(w.mapping); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("live: close mapping handle: %w", err)
	}
	return firstErr
}
