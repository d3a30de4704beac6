// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package control

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosypolyamory/site/internal/model"
)

func TestBuild(t *testing.T) {
	testCases := []struct {
		status       model.AttendanceStatus
		toggle       bool
		labels       []string
		alternatives []model.AttendanceStatus
	}{
		{model.StatusYes, true, []string{"Yes", "No", "Maybe"}, []model.AttendanceStatus{model.StatusNo, model.StatusMaybe}},
		{model.StatusNo, true, []string{"No", "Yes", "Maybe"}, []model.AttendanceStatus{model.StatusYes, model.StatusMaybe}},
		{model.StatusMaybe, true, []string{"Maybe", "Yes", "No"}, []model.AttendanceStatus{model.StatusYes, model.StatusNo}},
		{model.StatusWaitlist, true, []string{"Waitlisted", "No", "Maybe"}, []model.AttendanceStatus{model.StatusNo, model.StatusMaybe}},
		{model.StatusNone, false, []string{"Yes", "No", "Maybe"}, nil},
		{model.AttendanceStatus("bogus"), false, []string{"Yes", "No", "Maybe"}, nil},
		{"", false, []string{"Yes", "No", "Maybe"}, nil},
	}
	for _, tc := range testCases {
		t.Run(string(tc.status), func(t *testing.T) {
			v := Build(tc.status, "42", Style{})
			assert.Equal(t, tc.toggle, v.Toggle)
			assert.Equal(t, tc.labels, v.Labels())

			var alts []model.AttendanceStatus
			for _, o := range v.Alternatives {
				assert.NotEqual(t, tc.status, o.Status, "alternatives exclude the current status")
				alts = append(alts, o.Status)
			}
			assert.Equal(t, tc.alternatives, alts)
			if !tc.toggle {
				assert.Equal(t, model.StatusNone, v.Status)
			}
		})
	}
}

func TestParseStyle(t *testing.T) {
	testCases := []struct {
		class string
		want  Style
	}{
		{"btn btn-success", Style{}},
		{"btn btn-sm dropdown-toggle", Style{Size: SizeSmall}},
		{"btn-group btn-group-lg w-100", Style{Size: SizeLarge, FullWidth: true}},
		{"btn btn-block", Style{FullWidth: true}},
	}
	for _, tc := range testCases {
		t.Run(tc.class, func(t *testing.T) {
			got := ParseStyle(tc.class)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got, ParseStyle(got.Classes()), "classes round trip")
		})
	}
}

func TestLoading(t *testing.T) {
	v := Build(model.StatusNone, "42", Style{})
	l := v.Loading()
	assert.True(t, l.Disabled)
	assert.Equal(t, []string{LoadingLabel, LoadingLabel, LoadingLabel}, l.Labels())
	assert.Equal(t, []string{"Yes", "No", "Maybe"}, v.Labels(), "the loading copy leaves the view untouched")
}

func TestRender(t *testing.T) {
	out, err := RenderString(Build(model.StatusYes, "42", Style{Size: SizeSmall, FullWidth: true}))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, `<div class="attendance-container" data-event-id="42" data-status="yes">`))
	assert.Contains(t, out, `class="btn btn-success dropdown-toggle btn-sm w-100"`)
	assert.Contains(t, out, `<div class="dropdown w-100">`)
	assert.Equal(t, 1, strings.Count(out, ">Yes</button>"))
	assert.Contains(t, out, `data-status="no">No</button>`)
	assert.Contains(t, out, `data-status="maybe">Maybe</button>`)
	assert.NotContains(t, out, "disabled")

	out, err = RenderString(Build(model.StatusNone, `4"2`, Style{}).Loading())
	require.NoError(t, err)
	assert.Contains(t, out, `data-event-id="4&#34;2"`)
	assert.Contains(t, out, `<div class="btn-group" role="group">`)
	assert.Equal(t, 3, strings.Count(out, " disabled>"+LoadingLabel+"</button>"))
}
