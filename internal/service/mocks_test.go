package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/30ozSteak/StoryboardR-sub000/pkg/ffmpeg"
)

type MockDownloader struct {
	mock.Mock
}

func (m *MockDownloader) Download(ctx context.Context, rawURL, destPath string) error {
	args := m.Called(ctx, rawURL, destPath)
	return args.Error(0)
}

type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) GetVideoInfo(ctx context.Context, videoPath string) (*ffmpeg.VideoInfo, error) {
	args := m.Called(ctx, videoPath)
	if info := args.Get(0); info != nil {
		return info.(*ffmpeg.VideoInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockExtractor) ExtractKeyframes(ctx context.Context, videoPath, outDir string, opts ExtractionOptions) (*ExtractionResult, error) {
	args := m.Called(ctx, videoPath, outDir, opts)
	if result := args.Get(0); result != nil {
		return result.(*ExtractionResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockExtractor) ExtractFrameAtTimestamp(ctx context.Context, videoPath, outPath string, timestamp float64, quality int) error {
	args := m.Called(ctx, videoPath, outPath, timestamp, quality)
	return args.Error(0)
}
