// ABOUTME: Media attachments received from chat transports and the pipeline that turns them into text
// ABOUTME: Images are described, audio is transcribed; the result feeds a normal conversation turn

package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is the media type of an attachment.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

// ErrUnsupported is returned for attachments the pipeline cannot read.
var ErrUnsupported = errors.New("unsupported media")

// Media is one attachment downloaded from the transport.
type Media struct {
	Kind     Kind
	Data     []byte
	MIMEType string
	FileName string
	// Caption is any text the sender attached to the media.
	Caption string
	// Source is the transport's reference (an mxc:// URI) for media whose
	// Data is fetched later by the transport.
	Source string
	Size   int64
}

// Validate checks that m carries data of a known kind.
func (m Media) Validate() error {
	if m.Kind != KindImage && m.Kind != KindAudio {
		return fmt.Errorf("%w: kind %q", ErrUnsupported, m.Kind)
	}
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: empty %s", ErrUnsupported, m.Kind)
	}
	if m.MIMEType != "" && !strings.HasPrefix(m.MIMEType, string(m.Kind)+"/") {
		return fmt.Errorf("%w: %s with mime type %q", ErrUnsupported, m.Kind, m.MIMEType)
	}
	return nil
}

// Pipeline converts media into text the assistant can read.
type Pipeline interface {
	Describe(ctx context.Context, m Media) (string, error)
}
