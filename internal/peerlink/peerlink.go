// Package peerlink wraps the direct WebRTC connection between the two
// participants. Signaling blobs produced here are opaque to the relay; they
// travel inside peer-signal messages. Once the "file" data channel opens, the
// link satisfies transfer.Channel.
package peerlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabel names the single channel the transfer protocol runs on.
const DataChannelLabel = "file"

// signalBlob is the non-trickle signaling payload: one complete session
// description per direction, candidates already gathered.
type signalBlob struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Config struct {
	// Initiator is true for the host; it opens the data channel and sends
	// the offer.
	Initiator bool

	ICEServers []webrtc.ICEServer

	// API overrides the default pion API, used by tests to run on a
	// virtual network.
	API *webrtc.API

	Logger *slog.Logger
}

// Link is one side of the direct connection.
type Link struct {
	log       *slog.Logger
	initiator bool
	pc        *webrtc.PeerConnection

	mu       sync.Mutex
	dc       *webrtc.DataChannel
	onSignal func([]byte)
	onText   func([]byte)
	onBinary func([]byte)

	open   chan struct{}
	closed chan struct{}

	closeOnce sync.Once
}

func New(cfg Config) (*Link, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	api := cfg.API
	if api == nil {
		api = webrtc.NewAPI()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("peerlink: new peer connection: %w", err)
	}

	l := &Link{
		log:       log,
		initiator: cfg.Initiator,
		pc:        pc,
		open:      make(chan struct{}),
		closed:    make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		l.log.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			l.closeOnce.Do(func() { close(l.closed) })
		}
	})

	if cfg.Initiator {
		dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("peerlink: create data channel: %w", err)
		}
		l.bindDataChannel(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != DataChannelLabel {
				return
			}
			l.bindDataChannel(dc)
		})
	}

	return l, nil
}

// OnSignal registers the callback that ships signaling blobs to the peer
// (through the relay). Must be set before Start or Signal.
func (l *Link) OnSignal(fn func([]byte)) {
	l.mu.Lock()
	l.onSignal = fn
	l.mu.Unlock()
}

// OnText registers the handler for inbound text frames.
func (l *Link) OnText(fn func([]byte)) {
	l.mu.Lock()
	l.onText = fn
	l.mu.Unlock()
}

// OnBinary registers the handler for inbound binary frames.
func (l *Link) OnBinary(fn func([]byte)) {
	l.mu.Lock()
	l.onBinary = fn
	l.mu.Unlock()
}

// Start begins negotiation on the initiator side: create the offer, wait for
// candidate gathering, emit one signal blob. Responders wait for Signal.
func (l *Link) Start(ctx context.Context) error {
	if !l.initiator {
		return nil
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("peerlink: create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("peerlink: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	local := l.pc.LocalDescription()
	if local == nil {
		return fmt.Errorf("peerlink: missing local description")
	}
	l.emitSignal(signalBlob{Type: "offer", SDP: local.SDP})
	return nil
}

// Signal applies a blob received from the peer. Responders answer offers with
// their own blob; initiators apply the answer.
func (l *Link) Signal(ctx context.Context, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var blob signalBlob
	if err := dec.Decode(&blob); err != nil {
		return fmt.Errorf("peerlink: decode signal: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("peerlink: unexpected trailing signal data")
	}

	switch blob.Type {
	case "offer":
		if l.initiator {
			return fmt.Errorf("peerlink: initiator received an offer")
		}
		if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: blob.SDP}); err != nil {
			return fmt.Errorf("peerlink: set remote offer: %w", err)
		}
		answer, err := l.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("peerlink: create answer: %w", err)
		}
		gathered := webrtc.GatheringCompletePromise(l.pc)
		if err := l.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("peerlink: set local answer: %w", err)
		}
		select {
		case <-gathered:
		case <-ctx.Done():
			return ctx.Err()
		}
		local := l.pc.LocalDescription()
		if local == nil {
			return fmt.Errorf("peerlink: missing local description")
		}
		l.emitSignal(signalBlob{Type: "answer", SDP: local.SDP})
		return nil
	case "answer":
		if !l.initiator {
			return fmt.Errorf("peerlink: responder received an answer")
		}
		if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: blob.SDP}); err != nil {
			return fmt.Errorf("peerlink: set remote answer: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("peerlink: unsupported signal type %q", blob.Type)
	}
}

// WaitOpen blocks until the data channel is open or the link dies.
func (l *Link) WaitOpen(ctx context.Context) error {
	select {
	case <-l.open:
		return nil
	case <-l.closed:
		return fmt.Errorf("peerlink: connection closed before channel opened")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the connection fails or closes.
func (l *Link) Done() <-chan struct{} { return l.closed }

// SendText sends a JSON control frame.
func (l *Link) SendText(payload []byte) error {
	dc, err := l.openChannel()
	if err != nil {
		return err
	}
	return dc.SendText(string(payload))
}

// SendBinary sends a chunk frame.
func (l *Link) SendBinary(payload []byte) error {
	dc, err := l.openChannel()
	if err != nil {
		return err
	}
	return dc.Send(payload)
}

func (l *Link) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return l.pc.Close()
}

func (l *Link) openChannel() (*webrtc.DataChannel, error) {
	select {
	case <-l.open:
	default:
		return nil, fmt.Errorf("peerlink: data channel not open")
	}
	select {
	case <-l.closed:
		return nil, fmt.Errorf("peerlink: connection closed")
	default:
	}

	l.mu.Lock()
	dc := l.dc
	l.mu.Unlock()
	return dc, nil
}

func (l *Link) bindDataChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.log.Debug("data channel open", "label", dc.Label())
		close(l.open)
	})
	dc.OnClose(func() {
		l.closeOnce.Do(func() { close(l.closed) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.mu.Lock()
		onText, onBinary := l.onText, l.onBinary
		l.mu.Unlock()

		if msg.IsString {
			if onText != nil {
				onText(msg.Data)
			}
			return
		}
		if onBinary != nil {
			onBinary(msg.Data)
		}
	})
}

func (l *Link) emitSignal(blob signalBlob) {
	raw, err := json.Marshal(blob)
	if err != nil {
		panic(err)
	}

	l.mu.Lock()
	fn := l.onSignal
	l.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}
