package themefinder

import (
	"github.com/dan-solli/themefinder/pkg/theme"
)

// Type re-exports for caller convenience

// Response is re-exported from theme package
type Response = theme.Response

// Canonical is re-exported from theme package
type Canonical = theme.Canonical

// PipelineResult is re-exported from theme package
type PipelineResult = theme.PipelineResult

// Failure is re-exported from theme package
type Failure = theme.Failure

// UnclassifiedID is re-exported from theme package
const UnclassifiedID = theme.UnclassifiedID
