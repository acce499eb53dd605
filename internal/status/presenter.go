package status

import (
	"fmt"
	"html"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

// Style is the display treatment for a status level.
type Style struct {
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

var styles = map[types.Level]Style{
	types.LevelSuccess: {Color: "#16a34a", Icon: "fa-check-circle"},
	types.LevelError:   {Color: "#dc2626", Icon: "fa-times-circle"},
	types.LevelWarning: {Color: "#d97706", Icon: "fa-exclamation-circle"},
	types.LevelInfo:    {Color: "#64748b", Icon: "fa-info-circle"},
}

// StyleFor returns the style for level; unknown levels get info styling.
func StyleFor(level types.Level) Style {
	if s, ok := styles[level]; ok {
		return s
	}
	return styles[types.LevelInfo]
}

// Render is one rendered status line.
type Render struct {
	Message string      `json:"message"`
	Level   types.Level `json:"level"`
	Style
	HTML string `json:"html"`
}

// Region is where renders end up (a page element, an event stream...).
type Region interface {
	RenderStatus(r Render)
	ShowResult(text string)
	HideResult()
}

// Presenter turns status notifications into renders. It keeps no state.
type Presenter struct {
	region Region
}

// NewPresenter creates a presenter writing into region. A nil region discards.
func NewPresenter(region Region) *Presenter {
	return &Presenter{region: region}
}

// Present renders message with the styling of level.
func (p *Presenter) Present(message string, level types.Level) Render {
	style := StyleFor(level)
	if _, ok := styles[level]; !ok {
		level = types.LevelInfo
	}
	r := Render{
		Message: message,
		Level:   level,
		Style:   style,
		HTML: fmt.Sprintf(`<span style="color: %s;"><i class="fas %s"></i> %s</span>`,
			style.Color, style.Icon, html.EscapeString(message)),
	}
	if p != nil && p.region != nil {
		p.region.RenderStatus(r)
	}
	return r
}

// ShowResult displays the decoded text.
func (p *Presenter) ShowResult(text string) {
	if p != nil && p.region != nil {
		p.region.ShowResult(text)
	}
}

// HideResult clears the decoded text display.
func (p *Presenter) HideResult() {
	if p != nil && p.region != nil {
		p.region.HideResult()
	}
}
