package tasmota

import "errors"

// Domain-specific errors for the tasmota package.
// Use errors.Is() to check for these errors as they may be wrapped.
var (
	// ErrTransport indicates the broker could not be reached or an MQTT
	// operation (publish, subscribe) failed.
	ErrTransport = errors.New("tasmota: transport error")

	// ErrTimeout indicates no matching reply arrived in time.
	ErrTimeout = errors.New("tasmota: query timed out")

	// ErrMalformedReply indicates a reply matched but its value could not be parsed.
	ErrMalformedReply = errors.New("tasmota: malformed reply")

	// ErrClosed indicates the client was closed.
	ErrClosed = errors.New("tasmota: client closed")

	// ErrInvalidFullTopic indicates an unsupported FullTopic template or prefix.
	ErrInvalidFullTopic = errors.New("tasmota: invalid full topic")

	// ErrInvalidDevice indicates an empty device identifier or one containing
	// topic separators or wildcards.
	ErrInvalidDevice = errors.New("tasmota: invalid device id")

	// ErrInvalidCommand indicates an empty command name or one that would
	// not be a single publishable topic level.
	ErrInvalidCommand = errors.New("tasmota: invalid command")
)

// Config backup errors.
var (
	// ErrDownloadAborted indicates the device aborted the transfer.
	ErrDownloadAborted = errors.New("tasmota: download aborted by device")

	// ErrInvalidPassword indicates the device rejected the password (Error 1).
	ErrInvalidPassword = errors.New("tasmota: invalid password")

	// ErrBadChunkSize indicates the device rejected the chunk size (Error 2).
	ErrBadChunkSize = errors.New("tasmota: bad chunk size")

	// ErrInvalidFileType indicates the device rejected the file type (Error 3).
	ErrInvalidFileType = errors.New("tasmota: invalid file type")

	// ErrDownloadFailed indicates any other device-reported error.
	ErrDownloadFailed = errors.New("tasmota: download failed")

	// ErrLengthMismatch indicates the received data does not match the announced size.
	ErrLengthMismatch = errors.New("tasmota: length mismatch")

	// ErrInvalidHash indicates the announced MD5 is missing or not hex.
	ErrInvalidHash = errors.New("tasmota: invalid hash")

	// ErrHashMismatch indicates the received data does not match the announced MD5.
	ErrHashMismatch = errors.New("tasmota: hash mismatch")

	// ErrDeviceGone indicates the device went offline mid-transfer.
	ErrDeviceGone = errors.New("tasmota: device went offline")
)

// errMailboxClosed is returned by mailbox.next once closed and drained.
var errMailboxClosed = errors.New("mailbox closed")
