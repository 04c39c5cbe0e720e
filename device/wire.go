package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/weiihann/tangobench/payload"
)

// Request operations.
const (
	OpPing           = "ping"
	OpCommand        = "command"
	OpReadAttribute  = "read_attribute"
	OpWriteAttribute = "write_attribute"
	OpReadPipe       = "read_pipe"
	OpWritePipe      = "write_pipe"
	OpSubscribe      = "subscribe"
	OpUnsubscribe    = "unsubscribe"
	OpPutProperty    = "put_property"
)

const topicRoot = "tango"

// Request is one call from a client to a device. Replies go to ReplyTo and
// carry the same ID.
type Request struct {
	ID           uint64                    `json:"id"`
	ReplyTo      string                    `json:"reply_to"`
	Op           string                    `json:"op"`
	Name         string                    `json:"name,omitempty"`
	Value        string                    `json:"value,omitempty"`
	Attribute    *payload.AttributePayload `json:"attribute,omitempty"`
	Pipe         *payload.PipeBlob         `json:"pipe,omitempty"`
	Subscription int                       `json:"subscription,omitempty"`
}

// Reply answers a Request. A non-empty Error means the call failed.
type Reply struct {
	ID           uint64                    `json:"id"`
	Error        string                    `json:"error,omitempty"`
	Attribute    *payload.AttributePayload `json:"attribute,omitempty"`
	Pipe         *payload.PipeBlob         `json:"pipe,omitempty"`
	Subscription int                       `json:"subscription,omitempty"`
}

// Event is a change event published by a device for one attribute.
type Event struct {
	Device    string                    `json:"device"`
	Attribute string                    `json:"attribute"`
	Value     *payload.AttributePayload `json:"value,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// RequestTopic is where a device listens for requests.
func RequestTopic(device string) string {
	return fmt.Sprintf("%s/%s/request", topicRoot, device)
}

// ReplyTopic is where a client with the given ID receives replies from a
// device.
func ReplyTopic(device, clientID string) string {
	return fmt.Sprintf("%s/%s/reply/%s", topicRoot, device, clientID)
}

// EventTopic is where a device publishes change events for an attribute.
func EventTopic(device, attribute string) string {
	return fmt.Sprintf("%s/%s/event/%s", topicRoot, device, attribute)
}

// ValidateName rejects names that cannot be used as topic levels.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("empty name")
	}
	if strings.ContainsAny(name, "+#") {
		return fmt.Errorf("name %q contains a topic wildcard", name)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("name %q starts or ends with a separator", name)
	}

	return nil
}
