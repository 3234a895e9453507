package tasmota

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // Tasmota announces MD5; integrity check, not security
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FileTypeSettings is Tasmota's FileDownload type for the settings dump.
const FileTypeSettings = 2

// FileDownload protocol payloads.
const (
	downloadNext  = "?"
	downloadAbort = "0"
)

// Download status values sent in the "FileDownload" field.
const (
	statusStarted = "Started"
	statusDone    = "Done"
	statusAborted = "Aborted"
	statusError   = "Error"
)

// DownloadedFile is a file retrieved from a device.
type DownloadedFile struct {
	// Name is the file name suggested by the device, e.g. "Config_sonoff-1_13.3.0.dmp".
	Name string

	// Type is the Tasmota file type.
	Type int

	// Data holds the verified file contents.
	Data []byte

	// MD5 is the hex digest announced by the device.
	MD5 string
}

// downloadRequest opens a transfer.
type downloadRequest struct {
	Password string `json:"Password"`
	Type     int    `json:"Type"`
	Binary   int    `json:"Binary"`
}

// downloadControl is a JSON message on the FILEDOWNLOAD topic: either a
// status ({"FileDownload":"Done"}) or the file's metadata.
type downloadControl struct {
	Status *string `json:"FileDownload"`
	File   *string `json:"File"`
	ID     *int    `json:"Id"`
	Type   *int    `json:"Type"`
	Size   *int    `json:"Size"`
	MD5    *string `json:"Md5"`
}

// downloadStep tells the transfer loop what to do after a message.
type downloadStep int

const (
	stepWait downloadStep = iota // wait without acknowledging
	stepNext                     // acknowledge, then wait
	stepDone                     // transfer complete and verified
)

// transfer accumulates one file download.
type transfer struct {
	name     string
	fileType int
	size     int
	md5      string
	data     bytes.Buffer
}

func newTransfer() *transfer {
	return &transfer{size: -1}
}

// handle applies one message from the device.
func (t *transfer) handle(payload []byte) (downloadStep, error) {
	if !isControlMessage(payload) {
		t.data.Write(payload)
		return stepNext, nil
	}

	var msg downloadControl
	if err := json.Unmarshal(payload, &msg); err != nil {
		return stepWait, fmt.Errorf("%w: download control message: %w", ErrMalformedReply, err)
	}

	if msg.Status != nil {
		return t.handleStatus(*msg.Status)
	}

	if msg.File != nil {
		t.name = *msg.File
	}
	if msg.Type != nil {
		t.fileType = *msg.Type
	}
	if msg.Size != nil {
		t.size = *msg.Size
	}
	if msg.MD5 != nil {
		t.md5 = *msg.MD5
	}
	return stepNext, nil
}

func (t *transfer) handleStatus(status string) (downloadStep, error) {
	switch {
	case strings.EqualFold(status, statusStarted):
		return stepWait, nil
	case strings.EqualFold(status, statusDone):
		if err := t.verify(); err != nil {
			return stepWait, err
		}
		return stepDone, nil
	case strings.EqualFold(status, statusAborted):
		return stepWait, ErrDownloadAborted
	case len(status) > len(statusError) && strings.EqualFold(status[:len(statusError)], statusError):
		return stepWait, downloadError(strings.TrimSpace(status[len(statusError):]))
	default:
		return stepNext, nil
	}
}

// downloadError maps Tasmota's numbered errors.
func downloadError(code string) error {
	switch code {
	case "1":
		return ErrInvalidPassword
	case "2":
		return ErrBadChunkSize
	case "3":
		return ErrInvalidFileType
	}
	if _, err := strconv.Atoi(code); err == nil {
		return fmt.Errorf("%w: error %s", ErrDownloadFailed, code)
	}
	return fmt.Errorf("%w: %q", ErrDownloadFailed, code)
}

// verify checks the received data against the announced size and digest.
func (t *transfer) verify() error {
	if t.size < 0 || t.data.Len() != t.size {
		return fmt.Errorf("%w: received %d bytes, announced %d", ErrLengthMismatch, t.data.Len(), t.size)
	}

	want, err := hex.DecodeString(t.md5)
	if err != nil || len(want) != md5.Size {
		return fmt.Errorf("%w: %q", ErrInvalidHash, t.md5)
	}

	got := md5.Sum(t.data.Bytes()) //nolint:gosec // integrity check only
	if !bytes.Equal(got[:], want) {
		return fmt.Errorf("%w: got %x, announced %s", ErrHashMismatch, got, t.md5)
	}
	return nil
}

func (t *transfer) file() *DownloadedFile {
	return &DownloadedFile{
		Name: t.name,
		Type: t.fileType,
		Data: bytes.Clone(t.data.Bytes()),
		MD5:  strings.ToLower(t.md5),
	}
}

// isControlMessage reports whether payload is a JSON object rather than a
// binary chunk.
func isControlMessage(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// BackupConfig downloads the device's settings file.
//
// Each message from the device must arrive within the client's timeout.
// The transfer fails with ErrDeviceGone if the device goes offline first.
func (c *Client) BackupConfig(ctx context.Context, device DeviceID, password string) (*DownloadedFile, error) {
	return c.download(ctx, device, downloadRequest{
		Password: password,
		Type:     FileTypeSettings,
		Binary:   1,
	})
}

func (c *Client) download(ctx context.Context, device DeviceID, req downloadRequest) (*DownloadedFile, error) {
	if err := validateDevice(device); err != nil {
		return nil, err
	}
	if err := validateCommand(KindFileDownload); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding download request: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	key, box, err := c.queries.listen(device, KindFileDownload)
	if err != nil {
		return nil, err
	}
	defer c.queries.deregister(key)

	c.watchRemoval(ctx, device, cancel)

	topic, _ := c.topics.EncodeQuery(device, KindFileDownload)
	if err := c.publish(topic, body); err != nil {
		return nil, fmt.Errorf("%w: publishing %s: %w", ErrTransport, topic, err)
	}
	c.logger.Debug("download requested", "device", device, "type", req.Type)

	t := newTransfer()
	for {
		payload, err := c.nextDownloadMessage(ctx, box)
		if err != nil {
			if !errors.Is(err, ErrDeviceGone) && !errors.Is(err, ErrClosed) {
				c.abortDownload(topic)
			}
			return nil, err
		}

		step, err := t.handle(payload)
		if err != nil {
			// Device-reported failures and Done already closed the transfer.
			if errors.Is(err, ErrMalformedReply) {
				c.abortDownload(topic)
			}
			return nil, err
		}

		switch step {
		case stepDone:
			c.logger.Info("download complete", "device", device, "file", t.name, "bytes", t.data.Len())
			return t.file(), nil
		case stepWait:
			continue
		}

		if err := c.publish(topic, []byte(downloadNext)); err != nil {
			return nil, fmt.Errorf("%w: publishing %s: %w", ErrTransport, topic, err)
		}
	}
}

// nextDownloadMessage waits up to the client timeout for the next message.
func (c *Client) nextDownloadMessage(ctx context.Context, box *mailbox[[]byte]) ([]byte, error) {
	timeout := c.Timeout()
	waitCtx, cancel := context.WithTimeoutCause(ctx, timeout,
		fmt.Errorf("%w: no download message after %v", ErrTimeout, timeout))
	defer cancel()

	payload, err := box.next(waitCtx)
	switch {
	case err == nil:
		return payload, nil
	case errors.Is(err, errMailboxClosed):
		return nil, ErrClosed
	default:
		return nil, context.Cause(waitCtx)
	}
}

// watchRemoval cancels ctx with ErrDeviceGone when device goes offline.
// It stops when ctx ends or the client closes.
func (c *Client) watchRemoval(ctx context.Context, device DeviceID, cancel context.CancelCauseFunc) {
	id, box := c.presence.subscribe()

	go func() {
		defer c.presence.unsubscribe(id)

		for {
			update, err := box.next(ctx)
			if err != nil {
				return
			}
			if update.Kind == Removed && update.Device == device {
				cancel(fmt.Errorf("%w: %s", ErrDeviceGone, device))
				return
			}
		}
	}()
}

// abortDownload asks the device to drop a transfer we gave up on.
func (c *Client) abortDownload(topic string) {
	if err := c.publish(topic, []byte(downloadAbort)); err != nil {
		c.logger.Debug("download abort not sent", "topic", topic, "error", err)
	}
}
