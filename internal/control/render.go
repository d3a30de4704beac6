// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package control

import (
	"bytes"
	"embed"
	"html/template"
	"io"

	"github.com/cosypolyamory/site/internal/model"
)

//go:embed *.html
var templates embed.FS

var tmpl = template.Must(template.New("control").Funcs(template.FuncMap{
	"color": color,
}).ParseFS(templates, "control.html"))

func color(status model.AttendanceStatus) string {
	switch status {
	case model.StatusYes:
		return "success"
	case model.StatusNo:
		return "danger"
	case model.StatusMaybe:
		return "warning"
	case model.StatusWaitlist:
		return "info"
	default:
		return "secondary"
	}
}

func Render(w io.Writer, v View) error {
	return tmpl.ExecuteTemplate(w, "ATTENDANCE_CONTROL", v)
}

func RenderString(v View) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}
