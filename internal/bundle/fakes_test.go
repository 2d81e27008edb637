package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/cryptoutil"
)

const (
	testBucket   = "releases"
	testPrefix   = "apps/ssr/client/bundles"
	testSSMParam = "/app/ssr/client/stable/release/id"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) put(key string, data []byte) {
	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

type fakeSSM struct {
	mu    sync.Mutex
	value string
	err   error
	calls int
}

func (f *fakeSSM) set(v string, err error) {
	f.mu.Lock()
	f.value, f.err = v, err
	f.mu.Unlock()
}

func (f *fakeSSM) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(f.value)}}, nil
}

type fakeVerifier struct{ err error }

func (f fakeVerifier) VerifySignature(context.Context, []byte, []byte) error { return f.err }

func makeTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o640, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("write header %q: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write %q: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func releaseFiles(version string) map[string]string {
	return map[string]string{
		"index.js":     "console.log('" + version + "')",
		"sw.js":        "self.addEventListener('fetch',()=>{})",
		"offline.html": "<h1>Offline</h1>",
		"release.json": `{"version":"` + version + `"}`,
	}
}

// storeRelease puts a release into the fake bucket and returns its hash.
func storeRelease(t *testing.T, s *fakeS3, files map[string]string) string {
	t.Helper()
	data := makeTarGz(t, files)
	hash := cryptoutil.SHA256Hex(data)
	s.put(testPrefix+"/"+hash+".tar.gz", data)
	s.put(testPrefix+"/"+hash+".tar.gz.sig", []byte("sig"))
	return hash
}

func newTestLoader(t *testing.T, s *fakeS3, p *fakeSSM, v *fakeVerifier) *Loader {
	t.Helper()
	opts := LoaderOptions{
		SSMParam:  testSSMParam,
		S3Bucket:  testBucket,
		S3Prefix:  testPrefix,
		Required:  []string{"sw.js", "offline.html"},
		SSMClient: p,
		S3Client:  s,
	}
	if v != nil {
		opts.Verifier = *v
	}
	l, err := NewLoader(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}
