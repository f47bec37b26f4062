// Package events defines the bus envelope and the closed set of event types
// that flow through the control plane, plus the topic names used to reach
// the actors that subscribe to them.
package events

import "time"

// Topic names used across the core. Upstream adapters (Twitch, OBS, IronMON,
// Transcriber) are out of scope and publish onto these from outside the core.
const (
	TopicChat             = "chat"
	TopicFollowers         = "followers"
	TopicSubscriptions     = "subscriptions"
	TopicCheers            = "cheers"
	TopicTwitchEvents      = "twitch:events"
	TopicChannelUpdates    = "channel:updates"
	TopicTranscriptionLive = "transcription:live"
	TopicEvents            = "events"
	TopicStreamUpdates     = "stream:updates"
	TopicCorrelationInsights = "correlation:insights"
)

// Type is the closed set of event type strings carried in Envelope.Type.
type Type string

const (
	TypeChatMessage         Type = "chat.message"
	TypeChannelFollow       Type = "channel.follow"
	TypeChannelSubscribe    Type = "channel.subscribe"
	TypeChannelUpdate       Type = "channel.update"
	TypeChannelGoalProgress Type = "channel.goal.progress"
	TypeChannelGoalEnded    Type = "channel.goal.ended"
	TypeTranscriptionSnippet Type = "transcription.snippet"
	TypeStreamStarted       Type = "stream_started"
	TypeStreamStopped       Type = "stream_stopped"
	TypeInterruptExpired    Type = "interrupt_expired"
)

// Envelope is the immutable bus payload. Once published, a caller must never
// mutate an Envelope in place; Payload is read-only in the eyes of this
// package (concrete payload structs are value types for exactly this reason).
type Envelope struct {
	Topic         string
	Type          Type
	Payload       any
	Timestamp     time.Time
	CorrelationID string
}

// ChatMessage is the payload for TypeChatMessage on TopicChat.
type ChatMessage struct {
	User         string
	UserName     string
	Text         string
	Emotes       []string
	NativeEmotes []string
	TimestampMs  int64
}

// Follow is the payload for TypeChannelFollow on TopicFollowers.
type Follow struct {
	UserName    string
	TimestampMs int64
}

// SubTier is the closed set of Twitch subscription tiers.
type SubTier string

const (
	SubTier1000 SubTier = "1000"
	SubTier2000 SubTier = "2000"
	SubTier3000 SubTier = "3000"
)

// Subscription is the payload for TypeChannelSubscribe on TopicSubscriptions.
type Subscription struct {
	UserName         string
	Tier             SubTier
	CumulativeMonths int
}

// ChannelUpdate is the payload for TypeChannelUpdate on TopicChannelUpdates.
type ChannelUpdate struct {
	CategoryID   string
	CategoryName string
	Title        string
}

// TranscriptionSnippet is the payload for TypeTranscriptionSnippet on
// TopicTranscriptionLive.
type TranscriptionSnippet struct {
	ID          string
	Text        string
	TimestampMs int64
}

// TwitchChatData is the nested chat data carried by the Twitch-style
// envelope on TopicEvents/TopicTwitchEvents.
type TwitchChatData struct {
	MessageID       string
	ChatterUserName string
	Message         TwitchChatBody
}

// TwitchChatBody is the message body nested inside TwitchChatData.
type TwitchChatBody struct {
	Text   string
	Emotes []string
}
