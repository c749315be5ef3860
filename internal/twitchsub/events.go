package twitchsub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/you/stream-alerts/internal/core"
)

// logicalEvent identifies which of the three translators handles an incoming
// notification, independent of the subscription-type tag it arrived under.
type logicalEvent int

const (
	eventUnknown logicalEvent = iota
	eventFollow
	eventSubscribe
	eventRaid
)

// subscriptionAliases maps EventSub subscription-type tags to logical
// events. The subscribe family has accumulated several tags across API
// versions (resub messages and gifts are separate types upstream); they all
// fold into the subscribe translator.
var subscriptionAliases = map[string]logicalEvent{
	"channel.follow":               eventFollow,
	"channel.subscribe":            eventSubscribe,
	"channel.subscription.message": eventSubscribe,
	"channel.subscription.gift":    eventSubscribe,
	"channel.raid":                 eventRaid,
}

func classifyNotification(subType string) logicalEvent {
	if ev, ok := subscriptionAliases[subType]; ok {
		return ev
	}
	return eventUnknown
}

const placeholderUser = "Someone"

// mintID composes the alert id from the acting user's platform id and the
// current timestamp. Rapid repeated events from one user can collide; that
// matches the upstream guarantee and is not hardened further.
func mintID(userID string) string {
	if strings.TrimSpace(userID) == "" {
		userID = "unknown"
	}
	return fmt.Sprintf("%s-%d", userID, time.Now().UnixMilli())
}

type followEvent struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserLogin string `json:"user_login"`
}

func (e followEvent) name() string {
	for _, candidate := range []string{e.UserName, e.UserLogin} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return placeholderUser
}

type subscribeEvent struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserLogin string `json:"user_login"`
	IsGift    bool   `json:"is_gift"`
	Total     int    `json:"total"`
	Message   struct {
		Text string `json:"text"`
	} `json:"message"`
}

func (e subscribeEvent) name() string {
	for _, candidate := range []string{e.UserName, e.UserLogin} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return placeholderUser
}

type raidEvent struct {
	FromBroadcasterUserID    string `json:"from_broadcaster_user_id"`
	FromBroadcasterUserName  string `json:"from_broadcaster_user_name"`
	FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`
	Viewers                  int    `json:"viewers"`
}

func (e raidEvent) name() string {
	for _, candidate := range []string{e.FromBroadcasterUserName, e.FromBroadcasterUserLogin} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return placeholderUser
}

func translateFollow(raw []byte) core.Alert {
	var e followEvent
	// Parse errors fall through to placeholder fields.
	_ = json.Unmarshal(raw, &e)

	return core.Alert{
		ID:          mintID(e.UserID),
		Kind:        core.KindFollow,
		SubjectName: e.name(),
	}
}

func translateSubscribe(raw []byte) core.Alert {
	var e subscribeEvent
	_ = json.Unmarshal(raw, &e)

	alert := core.Alert{
		ID:          mintID(e.UserID),
		Kind:        core.KindSubscription,
		SubjectName: e.name(),
		Message:     "Subscribed!",
	}
	if text := strings.TrimSpace(e.Message.Text); text != "" {
		alert.Message = text
	}
	if e.IsGift || e.Total > 0 {
		alert.Message = "Gifted subscriptions!"
		if e.Total > 0 {
			alert.Amount = float64(e.Total)
			alert.Currency = "Subs"
		}
	}
	return alert
}

func translateRaid(raw []byte) core.Alert {
	var e raidEvent
	_ = json.Unmarshal(raw, &e)

	return core.Alert{
		ID:          mintID(e.FromBroadcasterUserID),
		Kind:        core.KindRaid,
		SubjectName: e.name(),
		Amount:      float64(e.Viewers),
	}
}

// wireMessage is one frame of the EventSub WebSocket protocol.
type wireMessage struct {
	Metadata struct {
		MessageID        string `json:"message_id"`
		MessageType      string `json:"message_type"`
		SubscriptionType string `json:"subscription_type"`
	} `json:"metadata"`
	Payload json.RawMessage `json:"payload"`
}

type welcomePayload struct {
	Session struct {
		ID                      string `json:"id"`
		ReconnectURL            string `json:"reconnect_url"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
	} `json:"session"`
}

type notificationPayload struct {
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}
