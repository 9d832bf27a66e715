package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"vehicle-scan/pkg/models"
)

// AzureExtractor reads plate and model from a photo with Azure Computer Vision OCR
type AzureExtractor struct {
	client *computervision.BaseClient
	log    logrus.FieldLogger
}

// NewAzureExtractor creates a new OCR-backed extractor
func NewAzureExtractor(endpoint, apiKey string, log logrus.FieldLogger) *AzureExtractor {
	client := computervision.New(endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(apiKey)
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &AzureExtractor{
		client: &client,
		log:    log,
	}
}

// EnhanceForOCR boosts contrast and sharpness so plate characters read better
func EnhanceForOCR(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 30)
	img = imaging.Sharpen(img, 1.5)
	img = imaging.AdjustBrightness(img, 10)
	img = imaging.AdjustGamma(img, 1.2)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode enhanced image: %w", err)
	}
	return buf.Bytes(), nil
}

// RecognizeText performs OCR on an image and returns the recognised lines
func (s *AzureExtractor) RecognizeText(ctx context.Context, data []byte) ([]TextLine, error) {
	result, err := s.client.RecognizePrintedTextInStream(
		ctx,
		true,
		io.NopCloser(bytes.NewReader(data)),
		computervision.OcrLanguages("pt"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}
	return textLinesFromResult(result), nil
}

// Extract implements Extractor
func (s *AzureExtractor) Extract(ctx context.Context, photo models.CanonicalImage) (models.ExtractedVehicleInfo, error) {
	if len(photo.EncodedBytes) == 0 {
		return models.ExtractedVehicleInfo{}, fmt.Errorf("%w: no photo", ErrExtraction)
	}

	data, err := EnhanceForOCR(photo.EncodedBytes)
	if err != nil {
		// the canonical image still goes to OCR unenhanced
		s.log.WithError(err).Debug("ocr enhancement skipped")
		data = photo.EncodedBytes
	}

	lines, err := s.RecognizeText(ctx, data)
	if err != nil {
		return models.ExtractedVehicleInfo{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	info := ParseVehicleInfo(lines)
	s.log.WithFields(logrus.Fields{
		"lines":         len(lines),
		"license_plate": info.LicensePlate,
		"vehicle_model": info.VehicleModel,
	}).Debug("ocr extraction finished")
	return info, nil
}

// textLinesFromResult flattens regions into lines with their bounding boxes
func textLinesFromResult(result computervision.OcrResult) []TextLine {
	if result.Regions == nil {
		return nil
	}
	var textLines []TextLine
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.BoundingBox == nil || line.Words == nil {
				continue
			}

			var box []int
			for _, part := range strings.Split(*line.BoundingBox, ",") {
				val, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil {
					break
				}
				box = append(box, val)
			}
			if len(box) < 4 {
				continue
			}

			words := make([]string, 0, len(*line.Words))
			for _, word := range *line.Words {
				if word.Text != nil {
					words = append(words, *word.Text)
				}
			}

			textLines = append(textLines, TextLine{
				Text:   strings.Join(words, " "),
				X:      box[0],
				Y:      box[1],
				Width:  box[2],
				Height: box[3],
			})
		}
	}
	return textLines
}
