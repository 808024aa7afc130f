package extraction

import (
	"context"

	"github.com/go-logr/logr"
)

// thermographyBatchSize caps images per provider call; larger documents are
// extracted in batches and merged.
const thermographyBatchSize = 10

// Extractors bundles the per-flavor extraction entry points over a shared
// client.
type Extractors struct {
	client *Client
	logger logr.Logger
}

// NewExtractors wires the extractor set.
func NewExtractors(client *Client, logger logr.Logger) *Extractors {
	return &Extractors{client: client, logger: logger.WithName("extractors")}
}

// Grounding extracts a ground-resistance report and computes the resistance
// aggregates.
func (e *Extractors) Grounding(ctx context.Context, texts []string, images []Image) (*Result[*GroundingExtraction], error) {
	result, err := Extract(ctx, e.client, groundingSystemPrompt, groundingPromptVersion, texts, images, &GroundingExtraction{})
	if err != nil {
		return nil, err
	}
	result.Payload.ComputeDerived()
	return result, nil
}

// Megger extracts an insulation-resistance report.
func (e *Extractors) Megger(ctx context.Context, texts []string, images []Image) (*Result[*MeggerExtraction], error) {
	return Extract(ctx, e.client, meggerSystemPrompt, meggerPromptVersion, texts, images, &MeggerExtraction{})
}

// Thermography extracts a thermal survey. Documents with more than
// thermographyBatchSize images are extracted in batches; hotspots are
// concatenated and the aggregates recomputed over the merged set.
func (e *Extractors) Thermography(ctx context.Context, texts []string, images []Image) (*Result[*ThermographyExtraction], error) {
	if len(images) <= thermographyBatchSize {
		result, err := Extract(ctx, e.client, thermographySystemPrompt, thermographyPromptVersion, texts, images, &ThermographyExtraction{})
		if err != nil {
			return nil, err
		}
		result.Payload.ComputeDerived()
		return result, nil
	}

	e.logger.Info("batching thermography extraction",
		"images", len(images), "batch_size", thermographyBatchSize)

	var merged *Result[*ThermographyExtraction]
	for start := 0; start < len(images); start += thermographyBatchSize {
		end := start + thermographyBatchSize
		if end > len(images) {
			end = len(images)
		}

		batch, err := Extract(ctx, e.client, thermographySystemPrompt, thermographyPromptVersion, texts, images[start:end], &ThermographyExtraction{})
		if err != nil {
			return nil, err
		}
		batch.Payload.ComputeDerived()

		if merged == nil {
			merged = batch
			continue
		}
		merged.Payload.Merge(batch.Payload)
		merged.Metadata.InputTokens += batch.Metadata.InputTokens
		merged.Metadata.OutputTokens += batch.Metadata.OutputTokens
	}

	// Confidence summary over the merged hotspot set.
	merged.OverallConfidence, merged.NeedsReview = summarize(merged.Payload.Leaves())
	return merged, nil
}

// Certificate runs OCR extraction over a single calibration certificate
// image.
func (e *Extractors) Certificate(ctx context.Context, image Image) (*Result[*CertificateOCR], error) {
	return Extract(ctx, e.client, certificateSystemPrompt, certificatePromptVersion, nil, []Image{image}, &CertificateOCR{})
}

// Hygrometer runs OCR extraction over a single thermo-hygrometer display
// image.
func (e *Extractors) Hygrometer(ctx context.Context, image Image) (*Result[*HygrometerOCR], error) {
	return Extract(ctx, e.client, hygrometerSystemPrompt, hygrometerPromptVersion, nil, []Image{image}, &HygrometerOCR{})
}
