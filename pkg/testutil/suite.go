package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// RunSuite provides a scratch directory of synthetic classification jobs
// shared by the tests of one suite.
type RunSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *RunSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	tempDir, err := os.MkdirTemp("", "classwiz-test-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir

	s.T().Logf("run suite started in %s", s.tempDir)
}

// TearDownSuite runs after all tests in the suite
func (s *RunSuite) TearDownSuite() {
	s.cancel()
	if s.tempDir != "" {
		_ = os.RemoveAll(s.tempDir)
	}
	s.T().Logf("run suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *RunSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the suite scratch directory
func (s *RunSuite) TempDir() string {
	return s.tempDir
}

// WriteJob writes spec into a fresh job directory named name and returns
// its path.
func (s *RunSuite) WriteJob(name string, spec RunSpec) string {
	dir := filepath.Join(s.tempDir, name)
	require.NoError(s.T(), os.MkdirAll(dir, 0o750))
	WriteRun(s.T(), dir, spec)
	return dir
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}
