// ABOUTME: Framing templates that prefix user text before it reaches the assistant
// ABOUTME: Distinguishes first contact from continuing conversations and wraps media results

package conversation

import (
	"fmt"
	"strings"
	"text/template"
)

// Default framing and apology text. The relay's audience writes Spanish.
const (
	DefaultFirstTemplate = "[Primera interacción con este usuario. Salúdalo y preséntate brevemente.]\n\n{{.Text}}"

	DefaultContinuingTemplate = "[Conversación en curso. No vuelvas a presentarte ni a saludar.]\n\n{{.Text}}"

	DefaultMediaTemplate = `{{if eq .Kind "audio"}}[El usuario envió una nota de voz. Transcripción:]{{else}}[El usuario envió una imagen. Descripción:]{{end}}
{{.Text}}{{if .Caption}}

{{.Caption}}{{end}}`

	DefaultApology = "Lo siento, tuve un problema al procesar tu mensaje. Por favor, inténtalo de nuevo en unos momentos."
)

// FrameData is the value the First and Continuing templates execute against.
type FrameData struct {
	UserID string
	Text   string
}

// MediaData is the value the Media template executes against.
type MediaData struct {
	Kind    string
	Text    string
	Caption string
}

// Framing holds the parsed templates.
type Framing struct {
	first      *template.Template
	continuing *template.Template
	media      *template.Template
}

// ParseFraming parses the three templates. Empty strings fall back to the defaults.
func ParseFraming(first, continuing, media string) (*Framing, error) {
	if first == "" {
		first = DefaultFirstTemplate
	}
	if continuing == "" {
		continuing = DefaultContinuingTemplate
	}
	if media == "" {
		media = DefaultMediaTemplate
	}

	f := &Framing{}
	var err error
	if f.first, err = template.New("first").Option("missingkey=error").Parse(first); err != nil {
		return nil, fmt.Errorf("parsing first-interaction template: %w", err)
	}
	if f.continuing, err = template.New("continuing").Option("missingkey=error").Parse(continuing); err != nil {
		return nil, fmt.Errorf("parsing continuing template: %w", err)
	}
	if f.media, err = template.New("media").Option("missingkey=error").Parse(media); err != nil {
		return nil, fmt.Errorf("parsing media template: %w", err)
	}
	return f, nil
}

// DefaultFraming returns the built-in templates.
func DefaultFraming() *Framing {
	f, err := ParseFraming("", "", "")
	if err != nil {
		panic(err)
	}
	return f
}

// Frame prefixes text for the assistant.
func (f *Framing) Frame(first bool, userID, text string) (string, error) {
	tmpl := f.continuing
	if first {
		tmpl = f.first
	}
	return execute(tmpl, FrameData{UserID: userID, Text: text})
}

// FrameMedia wraps a media description or transcript.
func (f *Framing) FrameMedia(kind, text, caption string) (string, error) {
	return execute(f.media, MediaData{Kind: kind, Text: text, Caption: strings.TrimSpace(caption)})
}

func execute(tmpl *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("executing %s template: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}
