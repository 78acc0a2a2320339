// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/matsujirushi/nanoimage/internal/log"
)

// FrameKind tags an upload frame's payload so the device-side loader
// knows how to interpret it without re-deriving that from position alone.
type FrameKind uint8

const (
	FrameBeginTransaction FrameKind = iota
	FrameType
	FrameMethod
	FrameField
	FrameString
	FrameConstant
	FrameInitOrder
	FrameEntryPoint
	FrameCommit
	FrameAbort

	// Lifecycle command frames. Unlike the frames above, each is sent on
	// its own outside any begin/commit transaction: they act on whatever
	// image and task state the device currently holds rather than
	// describing part of a new one.
	FrameResetExecutionEngine
	FrameClearFlash
	FrameCopyToFlash
	FrameKillTask
	FrameExecute
	FrameQueryCapabilities
	FrameEnableDebugging
	FrameDisableDebugging
)

// Frame is one unit of transport-framed upload traffic.
type Frame struct {
	Kind    FrameKind
	Token   Token
	Payload []byte
}

// Transport is the seam between the upload driver and whatever physical
// link reaches the device (serial, USB, network).
type Transport interface {
	// Send writes one frame to the device and blocks until it has been
	// accepted or rejected.
	Send(ctx context.Context, f Frame) error
	// Capacity reports the device's currently free flash budget in bytes.
	Capacity(ctx context.Context) (uint64, error)
	// Query writes f and blocks for the device's answering frame, for the
	// lifecycle commands whose whole purpose is the response (currently
	// just query-capabilities).
	Query(ctx context.Context, f Frame) (Frame, error)
}

// UploadDriver drives the phased upload sequence: it frames an
// ExecutionSet (or just a Delta, for an incremental update) and sends it
// over a Transport, with an explicit commit point so a device that loses
// power mid-upload is left holding its previous, still-bootable image
// rather than a half-written one.
type UploadDriver struct {
	transport Transport
	logger    *log.Helper
}

// NewUploadDriver constructs a driver over transport.
func NewUploadDriver(transport Transport, logger *log.Helper) *UploadDriver {
	if logger == nil {
		logger = log.NewNop()
	}
	return &UploadDriver{transport: transport, logger: logger}
}

// UploadFull sends the entire ExecutionSet as a new image, checking
// device capacity first.
func (d *UploadDriver) UploadFull(ctx context.Context, es *ExecutionSet) error {
	budget, err := d.transport.Capacity(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUpload, err)
	}
	if err := es.CheckCapacity(budget); err != nil {
		return err
	}
	if err := d.transport.Send(ctx, Frame{Kind: FrameBeginTransaction}); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendTypes(ctx, es.Types); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendMethods(ctx, es.Methods); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendFields(ctx, es.Fields); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendStrings(ctx, es.Strings); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendConstants(ctx, es.Constants); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendInitOrder(ctx, es.InitOrder); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendEntryPoint(ctx, es.EntryMethod, es.StartupFlags); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.transport.Send(ctx, Frame{Kind: FrameCommit}); err != nil {
		return fmt.Errorf("%w: commit failed: %v", ErrDeviceUpload, err)
	}
	d.logger.Infof("uploaded %d types, %d methods, %d fields", len(es.Types), len(es.Methods), len(es.Fields))
	if es.StartupFlags&StartupFlagUseFlashForProgram != 0 {
		if err := d.CopyToFlash(ctx); err != nil {
			return err
		}
	}
	return nil
}

// UploadKernel sends kernel as the shared platform prefix ahead of any
// program upload, for the create-kernel-for-flashing setting: unlike
// UploadFull it carries no entry point or init order of its own, since
// the kernel is never executed on its own.
func (d *UploadDriver) UploadKernel(ctx context.Context, kernel *ExecutionSet) error {
	if err := d.transport.Send(ctx, Frame{Kind: FrameBeginTransaction}); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendTypes(ctx, kernel.Types); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendMethods(ctx, kernel.Methods); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendFields(ctx, kernel.Fields); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendStrings(ctx, kernel.Strings); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendConstants(ctx, kernel.Constants); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.transport.Send(ctx, Frame{Kind: FrameCommit}); err != nil {
		return fmt.Errorf("%w: commit failed: %v", ErrDeviceUpload, err)
	}
	d.logger.Infof("uploaded kernel: %d types, %d methods, %d fields", len(kernel.Types), len(kernel.Methods), len(kernel.Fields))
	return nil
}

// UploadDelta sends only what a Delta names, for an incremental update
// against a device already holding prev. It frames the delta as given and
// does no filtering of its own; Diff has already compared against the
// previous snapshot, so an incremental update only transmits what changed.
func (d *UploadDriver) UploadDelta(ctx context.Context, delta *Delta, entry *MethodDescriptor, initOrder []*TypeDescriptor, flags StartupFlags) error {
	if err := d.transport.Send(ctx, Frame{Kind: FrameBeginTransaction}); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendTypes(ctx, delta.NewTypes); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendMethods(ctx, delta.NewMethods); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendFields(ctx, delta.NewFields); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendStrings(ctx, delta.NewStrings); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.sendConstants(ctx, delta.NewConstants); err != nil {
		return d.abort(ctx, err)
	}
	if len(delta.NewTypes) > 0 {
		if err := d.sendInitOrder(ctx, initOrder); err != nil {
			return d.abort(ctx, err)
		}
	}
	if err := d.sendEntryPoint(ctx, entry, flags); err != nil {
		return d.abort(ctx, err)
	}
	if err := d.transport.Send(ctx, Frame{Kind: FrameCommit}); err != nil {
		return fmt.Errorf("%w: commit failed: %v", ErrDeviceUpload, err)
	}
	d.logger.Infof("uploaded delta: %d types, %d methods, %d fields",
		len(delta.NewTypes), len(delta.NewMethods), len(delta.NewFields))
	return nil
}

func (d *UploadDriver) abort(ctx context.Context, cause error) error {
	// best effort: the device may already be unreachable, in which case
	// the abort frame itself fails and we still report the original cause.
	_ = d.transport.Send(ctx, Frame{Kind: FrameAbort})
	return fmt.Errorf("%w: %v", ErrDeviceUpload, cause)
}

func (d *UploadDriver) sendTypes(ctx context.Context, types []*TypeDescriptor) error {
	for _, t := range types {
		if err := d.transport.Send(ctx, Frame{Kind: FrameType, Token: t.Token, Payload: encodeTypeFrame(t)}); err != nil {
			return err
		}
	}
	return nil
}

func (d *UploadDriver) sendMethods(ctx context.Context, methods []*MethodDescriptor) error {
	for _, m := range methods {
		if err := d.transport.Send(ctx, Frame{Kind: FrameMethod, Token: m.Token, Payload: m.Body}); err != nil {
			return err
		}
	}
	return nil
}

func (d *UploadDriver) sendFields(ctx context.Context, fields []*FieldDescriptor) error {
	for _, f := range fields {
		if err := d.transport.Send(ctx, Frame{Kind: FrameField, Token: f.Token, Payload: f.ConstantInit}); err != nil {
			return err
		}
	}
	return nil
}

func (d *UploadDriver) sendStrings(ctx context.Context, strs []*StringBlob) error {
	for _, s := range strs {
		if err := d.transport.Send(ctx, Frame{Kind: FrameString, Token: s.Token, Payload: []byte(s.Value)}); err != nil {
			return err
		}
	}
	return nil
}

func (d *UploadDriver) sendConstants(ctx context.Context, consts []*ConstantBlob) error {
	for _, c := range consts {
		if err := d.transport.Send(ctx, Frame{Kind: FrameConstant, Token: c.Token, Payload: c.Data}); err != nil {
			return err
		}
	}
	return nil
}

func (d *UploadDriver) sendInitOrder(ctx context.Context, order []*TypeDescriptor) error {
	payload := make([]byte, 4*len(order))
	for i, t := range order {
		binary.LittleEndian.PutUint32(payload[i*4:], uint32(t.Token))
	}
	return d.transport.Send(ctx, Frame{Kind: FrameInitOrder, Payload: payload})
}

func (d *UploadDriver) sendEntryPoint(ctx context.Context, entry *MethodDescriptor, flags StartupFlags) error {
	if entry == nil {
		return fmt.Errorf("%w: no entry method", ErrBadEntryPoint)
	}
	return d.transport.Send(ctx, Frame{Kind: FrameEntryPoint, Token: entry.Token, Payload: []byte{byte(flags)}})
}

// ResetExecutionEngine halts every running task and reinitializes the
// execution engine in place, without touching flash.
func (d *UploadDriver) ResetExecutionEngine(ctx context.Context) error {
	if err := d.transport.Send(ctx, Frame{Kind: FrameResetExecutionEngine}); err != nil {
		return fmt.Errorf("%w: reset-execution-engine: %v", ErrDeviceUpload, err)
	}
	return nil
}

// ClearFlash erases the device's persistent image, kernel prefix
// included; a subsequent UploadFull is required before anything can run
// again.
func (d *UploadDriver) ClearFlash(ctx context.Context) error {
	if err := d.transport.Send(ctx, Frame{Kind: FrameClearFlash}); err != nil {
		return fmt.Errorf("%w: clear-flash: %v", ErrDeviceUpload, err)
	}
	return nil
}

// CopyToFlash commits whatever the execution engine currently holds in
// its working copy down to persistent flash, for the use-flash-for-
// program setting: the program must still be there after a power cycle.
func (d *UploadDriver) CopyToFlash(ctx context.Context) error {
	if err := d.transport.Send(ctx, Frame{Kind: FrameCopyToFlash}); err != nil {
		return fmt.Errorf("%w: copy-to-flash: %v", ErrDeviceUpload, err)
	}
	return nil
}

// KillTask asks the device to terminate the running task started from
// the given method token.
func (d *UploadDriver) KillTask(ctx context.Context, task Token) error {
	if err := d.transport.Send(ctx, Frame{Kind: FrameKillTask, Token: task}); err != nil {
		return fmt.Errorf("%w: kill-task: %v", ErrDeviceUpload, err)
	}
	return nil
}

// Execute starts method as a new task identified by taskID, with args as
// the task's argument vector.
func (d *UploadDriver) Execute(ctx context.Context, method Token, taskID uint32, args []byte) error {
	payload := make([]byte, 4+len(args))
	binary.LittleEndian.PutUint32(payload, taskID)
	copy(payload[4:], args)
	if err := d.transport.Send(ctx, Frame{Kind: FrameExecute, Token: method, Payload: payload}); err != nil {
		return fmt.Errorf("%w: execute: %v", ErrDeviceUpload, err)
	}
	return nil
}

// QueryCapabilities asks the device to report its flash size, RAM size,
// and protocol version, so a caller can decide whether an upcoming
// upload will fit before it starts sending frames.
func (d *UploadDriver) QueryCapabilities(ctx context.Context) (DeviceCapabilities, error) {
	resp, err := d.transport.Query(ctx, Frame{Kind: FrameQueryCapabilities})
	if err != nil {
		return DeviceCapabilities{}, fmt.Errorf("%w: query-capabilities: %v", ErrDeviceUpload, err)
	}
	return decodeDeviceCapabilities(resp.Payload)
}

// EnableDebugging and DisableDebugging toggle the device's debug-
// breakpoint notification stream.
func (d *UploadDriver) EnableDebugging(ctx context.Context) error {
	if err := d.transport.Send(ctx, Frame{Kind: FrameEnableDebugging}); err != nil {
		return fmt.Errorf("%w: enable-debugging: %v", ErrDeviceUpload, err)
	}
	return nil
}

func (d *UploadDriver) DisableDebugging(ctx context.Context) error {
	if err := d.transport.Send(ctx, Frame{Kind: FrameDisableDebugging}); err != nil {
		return fmt.Errorf("%w: disable-debugging: %v", ErrDeviceUpload, err)
	}
	return nil
}

// DeviceCapabilities is the device's answer to a query-capabilities
// lifecycle command.
type DeviceCapabilities struct {
	FlashBytes      uint64
	RAMBytes        uint64
	ProtocolVersion uint32
}

func decodeDeviceCapabilities(payload []byte) (DeviceCapabilities, error) {
	if len(payload) < 20 {
		return DeviceCapabilities{}, fmt.Errorf("%w: capability response too short", ErrDeviceUpload)
	}
	return DeviceCapabilities{
		FlashBytes:      binary.LittleEndian.Uint64(payload[0:8]),
		RAMBytes:        binary.LittleEndian.Uint64(payload[8:16]),
		ProtocolVersion: binary.LittleEndian.Uint32(payload[16:20]),
	}, nil
}

// FileTransport is a Transport that serializes frames to an io.Writer
// instead of a live device link, for offline image generation (the
// nanoxc CLI's --out mode) and for tests that assert on framed output
// without standing up a real link.
type FileTransport struct {
	w io.Writer
}

// NewFileTransport wraps w as a Transport.
func NewFileTransport(w io.Writer) *FileTransport {
	return &FileTransport{w: w}
}

// Send writes one length-prefixed frame: kind (1 byte), token (4 bytes),
// payload length (4 bytes), payload.
func (t *FileTransport) Send(ctx context.Context, f Frame) error {
	header := make([]byte, 9)
	header[0] = byte(f.Kind)
	binary.LittleEndian.PutUint32(header[1:], uint32(f.Token))
	binary.LittleEndian.PutUint32(header[5:], uint32(len(f.Payload)))
	if _, err := t.w.Write(header); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := t.w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Capacity reports an effectively unbounded budget: a file sink has no
// device flash constraint of its own.
func (t *FileTransport) Capacity(ctx context.Context) (uint64, error) {
	return 1 << 32, nil
}

// Query always fails: a file sink has no device on the other end to
// answer a request/response lifecycle command.
func (t *FileTransport) Query(ctx context.Context, f Frame) (Frame, error) {
	return Frame{}, fmt.Errorf("%w: file transport cannot answer queries", ErrDeviceUpload)
}

// encodeTypeFrame packs the fields a device-side type table entry needs:
// instance size, static size, kind, type flags, and the parent type's
// token (zero when there is no parent).
func encodeTypeFrame(t *TypeDescriptor) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:], t.InstanceSize)
	binary.LittleEndian.PutUint32(buf[4:], t.StaticSize)
	buf[8] = byte(t.Kind)
	buf[9] = byte(t.Flags)
	if t.Parent != nil {
		binary.LittleEndian.PutUint32(buf[12:], uint32(t.Parent.Token))
	}
	return buf
}
