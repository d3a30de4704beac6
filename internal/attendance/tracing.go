// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package attendance

import "go.opentelemetry.io/otel"

var tracer = otel.GetTracerProvider().Tracer("github.com/cosypolyamory/site/internal/attendance")
