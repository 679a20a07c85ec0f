package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rtypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

// CompareFacesAPI is the subset of the Rekognition client used for verification.
type CompareFacesAPI interface {
	CompareFaces(ctx context.Context, params *rekognition.CompareFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.CompareFacesOutput, error)
}

// RekognitionVerifier verifies face pairs with AWS Rekognition CompareFaces.
type RekognitionVerifier struct {
	client     CompareFacesAPI
	similarity float32
}

// NewRekognitionVerifier builds a verifier from the default AWS credential chain.
func NewRekognitionVerifier(ctx context.Context, region string, similarity float64) (*RekognitionVerifier, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("cannot load AWS config: %w", err)
	}
	return NewRekognitionVerifierWithClient(rekognition.NewFromConfig(awsConfig), similarity), nil
}

// NewRekognitionVerifierWithClient wraps an existing CompareFaces client.
// similarity is the minimum score, 0-100, for a verified pair.
func NewRekognitionVerifierWithClient(client CompareFacesAPI, similarity float64) *RekognitionVerifier {
	return &RekognitionVerifier{client: client, similarity: float32(similarity)}
}

// Verify compares the face in a against the faces in b.
// An image without a detectable face is an unverified pair, not an error.
func (r *RekognitionVerifier) Verify(ctx context.Context, a, b []byte) (types.Verification, error) {
	out, err := r.client.CompareFaces(ctx, &rekognition.CompareFacesInput{
		SourceImage:         &rtypes.Image{Bytes: a},
		TargetImage:         &rtypes.Image{Bytes: b},
		SimilarityThreshold: aws.Float32(r.similarity),
	})
	if err != nil {
		var invalid *rtypes.InvalidParameterException
		if errors.As(err, &invalid) {
			return types.Verification{Verified: false, Distance: 1}, nil
		}
		return types.Verification{}, err
	}

	var best float32
	for _, match := range out.FaceMatches {
		// Check if nil, because a direct comparison will throw an exception
		if match.Similarity == nil {
			continue
		}
		if *match.Similarity > best {
			best = *match.Similarity
		}
	}
	return types.Verification{
		Verified: best > 0 && best >= r.similarity,
		Distance: 1 - float64(best)/100,
	}, nil
}
