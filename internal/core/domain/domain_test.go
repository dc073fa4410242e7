package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func TestDecodeSignal_Offer(t *testing.T) {
	raw := []byte(`{"senderId":"peer-A","targetId":"peer-B","type":"offer","sdp":{"type":"offer","sdp":"` + escape(testSDP) + `"}}`)

	sig, err := DecodeSignal(raw)
	require.NoError(t, err)

	offer, ok := sig.(Offer)
	require.True(t, ok, "expected Offer, got %T", sig)
	assert.Equal(t, PeerID("peer-A"), offer.From)
	assert.Equal(t, PeerID("peer-B"), offer.To)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.SDP.Type)
	assert.Equal(t, testSDP, offer.SDP.SDP)
}

func TestDecodeSignal_LegacyCandidateAlias(t *testing.T) {
	raw := []byte(`{"senderId":"peer-A","targetId":"peer-B","type":"newIceCandidate","candidate":{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 50000 typ host","sdpMid":"0","sdpMLineIndex":0}}`)

	sig, err := DecodeSignal(raw)
	require.NoError(t, err)
	cand, ok := sig.(Candidate)
	require.True(t, ok)
	assert.Equal(t, SignalTypeCandidate, cand.Type())
	assert.Equal(t, "0:0:candidate:1 1 udp 2122260223 10.0.0.1 50000 typ host", CandidateFingerprint(cand.Candidate))
}

func TestDecodeSignal_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"unknown type", `{"senderId":"a","targetId":"b","type":"bye"}`, ErrUnknownSignalType},
		{"not json", `{"senderId":`, ErrMalformedSignal},
		{"missing sender", `{"targetId":"b","type":"offer"}`, ErrMalformedSignal},
		{"offer without sdp", `{"senderId":"a","targetId":"b","type":"offer"}`, ErrMalformedSignal},
		{"answer carrying offer", `{"senderId":"a","targetId":"b","type":"answer","sdp":{"type":"offer","sdp":"` + escape(testSDP) + `"}}`, ErrMalformedSignal},
		{"garbage sdp", `{"senderId":"a","targetId":"b","type":"offer","sdp":{"type":"offer","sdp":"hello"}}`, ErrMalformedSignal},
		{"candidate without body", `{"senderId":"a","targetId":"b","type":"candidate"}`, ErrMalformedSignal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeSignal([]byte(tc.raw))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEncodeSignal_EmitsCanonicalCandidateType(t *testing.T) {
	mid := "0"
	data, err := EncodeSignal(Candidate{From: "a", To: "b", Candidate: webrtc.ICECandidateInit{Candidate: "candidate:x", SDPMid: &mid}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"candidate"`)

	back, err := DecodeSignal(data)
	require.NoError(t, err)
	assert.Equal(t, "candidate:x", back.(Candidate).Candidate.Candidate)
}

func TestCandidateFingerprint_NilFields(t *testing.T) {
	assert.Equal(t, "::candidate:1", CandidateFingerprint(webrtc.ICECandidateInit{Candidate: "candidate:1"}))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateHaveLocalOffer))
	assert.True(t, CanTransition(StateIdle, StateHaveRemoteOffer))
	assert.True(t, CanTransition(StateHaveRemoteOffer, StateHaveLocalAnswer))
	assert.True(t, CanTransition(StateHaveLocalAnswer, StateConnecting))
	assert.True(t, CanTransition(StateConnecting, StateConnected))
	assert.True(t, CanTransition(StateConnected, StateHaveLocalOffer), "renegotiation re-enters from connected")
	assert.True(t, CanTransition(StateHaveLocalOffer, StateHaveRemoteOffer), "polite rollback")
	assert.True(t, CanTransition(StateConnecting, StateFailed))
	assert.True(t, CanTransition(StateFailed, StateClosed))

	assert.False(t, CanTransition(StateIdle, StateConnected))
	assert.False(t, CanTransition(StateHaveRemoteOffer, StateHaveLocalOffer))
	assert.False(t, CanTransition(StateFailed, StateFailed))
	assert.False(t, CanTransition(StateClosed, StateHaveLocalOffer))
	assert.False(t, CanTransition(StateClosed, StateClosed))

	err := Transition(StateIdle, StateConnected)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNewCallStatus(t *testing.T) {
	s := NewCallStatus("p", webrtc.ICEConnectionStateCompleted, StateConnected)
	assert.Equal(t, StatusEstablished, s.Text)
	assert.False(t, s.Waiting)

	s = NewCallStatus("p", webrtc.ICEConnectionStateChecking, StateConnecting)
	assert.Equal(t, StatusConnecting, s.Text)
	assert.True(t, s.Waiting)

	s = NewCallStatus("p", webrtc.ICEConnectionStateFailed, StateFailed)
	assert.Equal(t, StatusFailed, s.Text)
	assert.False(t, s.Waiting)
}

func TestPolite_ExactlyOneSideYields(t *testing.T) {
	assert.NotEqual(t, Polite("alice", "bob"), Polite("bob", "alice"))
}

func TestICEErrorClassification(t *testing.T) {
	base := &ICEError{Kind: ICEErrorRemoteDescriptionNotSet, Err: errors.New("not yet")}
	wrapped := fmt.Errorf("apply: %w", base)

	assert.True(t, IsRemoteDescriptionNotSet(wrapped))
	assert.False(t, IsRemoteDescriptionNotSet(&ICEError{Kind: ICEErrorOther, Err: errors.New("bad")}))
	assert.False(t, IsRemoteDescriptionNotSet(errors.New("remote description not set")))
}

func escape(s string) string {
	out := ""
	for _, r := range s {
		switch r {
		case '\r':
			out += `\r`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out
}
