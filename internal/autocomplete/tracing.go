// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package autocomplete

import "go.opentelemetry.io/otel"

var tracer = otel.GetTracerProvider().Tracer("github.com/cosypolyamory/site/internal/autocomplete")
