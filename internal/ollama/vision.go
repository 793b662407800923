// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-agent/internal/gateway"
)

// VisionInstruction prefixes every per-image request.
const VisionInstruction = "Describe this image in detail. Include any visible text verbatim."

// StripDataURI removes a leading data:image/...;base64, prefix.
func StripDataURI(image string) string {
	if !strings.HasPrefix(image, "data:") {
		return image
	}
	if i := strings.Index(image, ";base64,"); i >= 0 {
		return image[i+len(";base64,"):]
	}
	if i := strings.IndexByte(image, ','); i >= 0 {
		return image[i+1:]
	}
	return image
}

// ImageToText describes each image with one non-streaming request and returns
// "image {n}: {result}" lines in input order (n starts at 1). userText, when
// set, follows the instruction in every prompt.
//
// With ImageConcurrency > 1 requests run in parallel; results are still
// reassembled by input index. The first failure cancels the rest.
func (c *Client) ImageToText(ctx context.Context, model string, images []string, userText string) (string, error) {
	if len(images) == 0 {
		return "", nil
	}
	model = c.model(model)
	ctx, span := tracer.Start(ctx, "ollama.image_to_text")
	span.SetAttributes(attribute.String("model", model), attribute.Int("images", len(images)))
	defer span.End()

	prompt := VisionInstruction
	if userText = strings.TrimSpace(userText); userText != "" {
		prompt += "\n\n" + userText
	}

	results := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.ImageConcurrency)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			resp, err := c.Generate(gctx, GenerateRequest{
				Model:  model,
				Prompt: prompt,
				Images: []string{StripDataURI(img)},
			})
			if err != nil {
				return err
			}
			results[i] = strings.TrimSpace(resp.Response)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(gateway.CodeOf(err)))
		return "", err
	}

	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = fmt.Sprintf("image %d: %s", i+1, r)
	}
	return strings.Join(lines, "\n"), nil
}
