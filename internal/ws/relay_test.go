package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu  sync.Mutex
	got map[string][]Envelope
}

func newFakeSender() *fakeSender { return &fakeSender{got: map[string][]Envelope{}} }

func (f *fakeSender) SendTo(peerID string, msg []byte) bool {
	var e Envelope
	if err := json.Unmarshal(msg, &e); err != nil {
		return false
	}
	f.mu.Lock()
	f.got[peerID] = append(f.got[peerID], e)
	f.mu.Unlock()
	return true
}

func (f *fakeSender) take(peerID string) []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.got[peerID]
	delete(f.got, peerID)
	return out
}

func only(t *testing.T, envs []Envelope, typ string) Envelope {
	t.Helper()
	require.Len(t, envs, 1)
	require.Equal(t, typ, envs[0].Type)
	return envs[0]
}

func TestRelay_JoinAndLeave(t *testing.T) {
	fs := newFakeSender()
	r := NewRelay(fs)

	r.Join("a", "R", "alice")
	e := only(t, fs.take("a"), TypeExistingPeers)
	assert.JSONEq(t, `[]`, string(e.Data))

	r.Join("b", "R", "bob")
	e = only(t, fs.take("b"), TypeExistingPeers)
	assert.JSONEq(t, `[{"peerId":"a","name":"alice"}]`, string(e.Data))
	e = only(t, fs.take("a"), TypePeerJoined)
	assert.JSONEq(t, `{"peerId":"b","name":"bob"}`, string(e.Data))

	r.Leave("b")
	e = only(t, fs.take("a"), TypePeerLeft)
	assert.JSONEq(t, `{"peerId":"b","name":"bob"}`, string(e.Data))
	assert.Empty(t, fs.take("b"))
	_, ok := r.Room("b")
	assert.False(t, ok)

	r.Leave("a")
	assert.Empty(t, r.Members("R"))
	r.mu.Lock()
	assert.Empty(t, r.rooms, "empty room is discarded")
	r.mu.Unlock()
}

func TestRelay_JoinOtherRoomLeavesFirst(t *testing.T) {
	fs := newFakeSender()
	r := NewRelay(fs)
	r.Join("a", "R1", "alice")
	r.Join("b", "R1", "bob")
	fs.take("a")
	fs.take("b")

	r.Join("b", "R2", "bob")
	only(t, fs.take("a"), TypePeerLeft)
	only(t, fs.take("b"), TypeExistingPeers)

	room, ok := r.Room("b")
	require.True(t, ok)
	assert.Equal(t, "R2", room)
	assert.Equal(t, map[string]string{"a": "alice"}, r.Members("R1"))
}

func TestRelay_OfferReachesOnlyTarget(t *testing.T) {
	fs := newFakeSender()
	r := NewRelay(fs)
	r.Join("a", "R", "alice")
	r.Join("b", "R", "bob")
	r.Join("c", "R", "carol")
	fs.take("a")
	fs.take("b")
	fs.take("c")

	desc := `{"type":"offer","sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1\r\n"}`
	r.Signal(TypeVideoOffer, "a", signalIn{To: "b", Description: json.RawMessage(desc)})

	e := only(t, fs.take("b"), TypeVideoOffer)
	var got sessionOut
	require.NoError(t, json.Unmarshal(e.Data, &got))
	assert.Equal(t, "a", got.From)
	assert.JSONEq(t, desc, string(got.Description))
	assert.Empty(t, fs.take("c"))
	assert.Empty(t, fs.take("a"))
}

func TestRelay_SignalDropsIncomplete(t *testing.T) {
	fs := newFakeSender()
	r := NewRelay(fs)

	r.Signal(TypeVideoOffer, "a", signalIn{Description: json.RawMessage(`{"sdp":"x"}`)})
	r.Signal(TypeVideoAnswer, "a", signalIn{To: "b"})
	r.Signal(TypeVideoAnswer, "a", signalIn{To: "b", Description: json.RawMessage(`null`)})
	r.Signal(TypeVideoICE, "a", signalIn{To: "b", Description: json.RawMessage(`{"sdp":"x"}`)})
	assert.Empty(t, fs.got)

	r.Signal(TypeVideoICE, "a", signalIn{To: "b", Candidate: json.RawMessage(`{"candidate":"c1"}`)})
	e := only(t, fs.take("b"), TypeVideoICE)
	assert.JSONEq(t, `{"from":"a","candidate":{"candidate":"c1"}}`, string(e.Data))
}

func TestRelay_RoomMessage(t *testing.T) {
	fs := newFakeSender()
	r := NewRelay(fs)
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }
	r.Join("a", "R", "alice")
	r.Join("b", "R", "bob")
	r.Join("c", "Other", "carol")
	fs.take("a")
	fs.take("b")
	fs.take("c")

	r.RoomMessage("a", "ghost0001", roomMessageIn{Text: "  hi  "})
	for _, peer := range []string{"a", "b"} {
		e := only(t, fs.take(peer), TypeRoomMessage)
		var m RoomMessage
		require.NoError(t, json.Unmarshal(e.Data, &m))
		assert.Equal(t, RoomMessage{ID: "a-1700000000000", RoomID: "R", From: "a", Name: "alice", Text: "hi", Ts: 1700000000000}, m)
	}
	assert.Empty(t, fs.take("c"))

	r.RoomMessage("a", "ghost0001", roomMessageIn{Text: "x", ID: "custom", Name: "A", Ts: 5})
	e := only(t, fs.take("b"), TypeRoomMessage)
	assert.JSONEq(t, `{"id":"custom","roomId":"R","from":"a","name":"A","text":"x","ts":5}`, string(e.Data))
	only(t, fs.take("a"), TypeRoomMessage)

	r.RoomMessage("a", "ghost0001", roomMessageIn{Text: "   "})
	r.RoomMessage("z", "ghost0009", roomMessageIn{Text: "nobody"})
	assert.Empty(t, fs.take("a"))
}
