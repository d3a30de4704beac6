// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

// Package control builds the attendance control of an event. A View is a
// pure projection of an attendance status; Render turns it into markup that
// fully replaces the previous control.
package control

import (
	"strings"

	"github.com/cosypolyamory/site/internal/model"
)

const LoadingLabel = "Loading..."

// Size classes carried over from one control to the next.
const (
	SizeDefault = ""
	SizeSmall   = "sm"
	SizeLarge   = "lg"
)

type Style struct {
	Size      string
	FullWidth bool
}

// ParseStyle detects the size and width of an existing control from its
// class attribute.
func ParseStyle(class string) Style {
	var s Style
	for _, c := range strings.Fields(class) {
		switch c {
		case "btn-sm", "btn-group-sm":
			s.Size = SizeSmall
		case "btn-lg", "btn-group-lg":
			s.Size = SizeLarge
		case "w-100", "btn-block":
			s.FullWidth = true
		}
	}
	return s
}

// Classes returns the classes that reproduce the style, with a leading space.
func (s Style) Classes() string {
	var b strings.Builder
	if s.Size != SizeDefault {
		b.WriteString(" btn-" + s.Size)
	}
	if s.FullWidth {
		b.WriteString(" w-100")
	}
	return b.String()
}

type Option struct {
	Status model.AttendanceStatus
	Label  string
}

// View describes one attendance container. A toggle shows the current
// status and opens a menu of alternatives; otherwise Buttons holds the
// Yes/No/Maybe group.
type View struct {
	EventID      string
	Status       model.AttendanceStatus
	Toggle       bool
	Current      Option
	Alternatives []Option
	Buttons      []Option
	Style        Style
	Disabled     bool
}

var alternatives = map[model.AttendanceStatus][]model.AttendanceStatus{
	model.StatusYes:      {model.StatusNo, model.StatusMaybe},
	model.StatusNo:       {model.StatusYes, model.StatusMaybe},
	model.StatusMaybe:    {model.StatusYes, model.StatusNo},
	model.StatusWaitlist: {model.StatusNo, model.StatusMaybe},
}

var group = []model.AttendanceStatus{model.StatusYes, model.StatusNo, model.StatusMaybe}

// Build projects status onto a view. Unknown statuses render the three
// button group with nothing selected.
func Build(status model.AttendanceStatus, eventID string, style Style) View {
	v := View{EventID: eventID, Status: status, Style: style}
	alts, ok := alternatives[status]
	if !ok {
		v.Status = model.StatusNone
		for _, st := range group {
			v.Buttons = append(v.Buttons, Option{Status: st, Label: st.Label()})
		}
		return v
	}

	v.Toggle = true
	v.Current = Option{Status: status, Label: status.Label()}
	for _, st := range alts {
		v.Alternatives = append(v.Alternatives, Option{Status: st, Label: st.Label()})
	}
	return v
}

// Loading returns a copy with every control disabled and every label
// replaced by the loading indicator.
func (v View) Loading() View {
	l := v
	l.Disabled = true
	l.Current.Label = LoadingLabel
	l.Alternatives = relabel(v.Alternatives)
	l.Buttons = relabel(v.Buttons)
	return l
}

// Labels lists the visible labels in document order.
func (v View) Labels() []string {
	var labels []string
	if v.Toggle {
		labels = append(labels, v.Current.Label)
		for _, o := range v.Alternatives {
			labels = append(labels, o.Label)
		}
		return labels
	}
	for _, o := range v.Buttons {
		labels = append(labels, o.Label)
	}
	return labels
}

func relabel(opts []Option) []Option {
	if opts == nil {
		return nil
	}
	out := make([]Option, len(opts))
	for i, o := range opts {
		out[i] = Option{Status: o.Status, Label: LoadingLabel}
	}
	return out
}
