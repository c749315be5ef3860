package kick

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/you/stream-alerts/internal/core"
)

// logicalEvent is what an upstream pusher event means, independent of which
// of its several names it arrived under.
type logicalEvent int

const (
	eventUnknown logicalEvent = iota
	eventFollowers
	eventSubscription
	eventGiftSubs
	eventLive
)

// eventAliases maps every known upstream event name to its logical event.
// Kick has renamed these across API versions, so the same logical event can
// arrive under more than one tag.
var eventAliases = map[string]logicalEvent{
	`App\Events\FollowersUpdated`:                       eventFollowers,
	`App\Events\FollowersUpdatedEvent`:                  eventFollowers,
	`App\Events\SubscriptionEvent`:                      eventSubscription,
	`App\Events\ChannelSubscriptionEvent`:               eventSubscription,
	`App\Events\GiftedSubscriptionsEvent`:               eventGiftSubs,
	`App\Events\LuckyUsersWhoGotGiftSubscriptionsEvent`: eventGiftSubs,
	`App\Events\StreamerIsLive`:                         eventLive,
}

func classifyEvent(name string) logicalEvent {
	if ev, ok := eventAliases[name]; ok {
		return ev
	}
	return eventUnknown
}

const (
	placeholderFollower   = "New Follower"
	placeholderSubscriber = "New Subscriber"
	placeholderGifter     = "Anonymous"
)

// followersPayload is the shape of a FollowersUpdated event.
type followersPayload struct {
	FollowersCount int  `json:"followers_count"`
	Followed       bool `json:"followed"`
}

// subscriptionPayload covers both the flat and nested subscriber shapes seen
// across Kick API versions.
type subscriptionPayload struct {
	Username string `json:"username"`
	User     struct {
		Username string `json:"username"`
	} `json:"user"`
	Subscriber struct {
		Username string `json:"username"`
	} `json:"subscriber"`
	Months int `json:"months"`
}

func (p subscriptionPayload) name() string {
	for _, candidate := range []string{p.User.Username, p.Subscriber.Username, p.Username} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return placeholderSubscriber
}

// giftPayload covers both gifted-subscription shapes.
type giftPayload struct {
	GifterUsername string `json:"gifter_username"`
	Gifter         struct {
		Username string `json:"username"`
	} `json:"gifter"`
	GiftedUsernames []string `json:"gifted_usernames"`
	Usernames       []string `json:"usernames"`
}

func (p giftPayload) name() string {
	for _, candidate := range []string{p.Gifter.Username, p.GifterUsername} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return placeholderGifter
}

func (p giftPayload) count() int {
	if n := len(p.GiftedUsernames); n > 0 {
		return n
	}
	if n := len(p.Usernames); n > 0 {
		return n
	}
	return 1
}

func mintID() string {
	return uuid.NewString()
}

// translateFollowers builds the Follow alert for a push-layer follower
// event. The second return is the counter carried by the event (0 when
// absent); the connector uses it to ratchet the polling baseline.
func translateFollowers(raw []byte) (core.Alert, int) {
	var p followersPayload
	// Parse errors fall through to an all-placeholder alert.
	_ = json.Unmarshal(raw, &p)

	alert := core.Alert{
		ID:          mintID(),
		Kind:        core.KindFollow,
		SubjectName: placeholderFollower,
	}
	if p.FollowersCount > 0 {
		alert.Message = fmt.Sprintf("Total: %d", p.FollowersCount)
	}
	return alert, p.FollowersCount
}

func translateSubscription(raw []byte) core.Alert {
	var p subscriptionPayload
	_ = json.Unmarshal(raw, &p)

	alert := core.Alert{
		ID:          mintID(),
		Kind:        core.KindSubscription,
		SubjectName: p.name(),
	}
	if p.Months > 1 {
		alert.Message = fmt.Sprintf("Subscribed for %d months!", p.Months)
	} else {
		alert.Message = "Subscribed!"
	}
	return alert
}

func translateGift(raw []byte) core.Alert {
	var p giftPayload
	_ = json.Unmarshal(raw, &p)

	return core.Alert{
		ID:          mintID(),
		Kind:        core.KindSubscription,
		SubjectName: p.name(),
		Message:     "Gifted subscriptions!",
		Amount:      float64(p.count()),
		Currency:    "Subs",
	}
}

// syntheticFollow is a polling-derived Follow alert; the payload carries no
// name, so the subject is a placeholder.
func syntheticFollow() core.Alert {
	return core.Alert{
		ID:          mintID(),
		Kind:        core.KindFollow,
		SubjectName: placeholderFollower,
	}
}

// pusherMessage is one frame of the pusher wire protocol. Data arrives as a
// JSON-encoded string for server events; decodeData also accepts a raw
// object since Kick has emitted both.
type pusherMessage struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Channel string          `json:"channel,omitempty"`
}

func (m pusherMessage) decodeData() []byte {
	if len(m.Data) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return []byte(s)
	}
	return []byte(m.Data)
}

type pusherSubscribe struct {
	Event string `json:"event"`
	Data  struct {
		Auth    string `json:"auth"`
		Channel string `json:"channel"`
	} `json:"data"`
}

func newSubscribe(channel string) pusherSubscribe {
	var msg pusherSubscribe
	msg.Event = "pusher:subscribe"
	msg.Data.Channel = channel
	return msg
}
