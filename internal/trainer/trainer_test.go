package trainer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"emotiond/internal/checkpoint"
	"emotiond/internal/control"
	"emotiond/internal/dataset"
	"emotiond/internal/nn"
	"emotiond/internal/tracking"
)

func scriptedConfig(t *testing.T, losses []float64, epochs int) (Config, *scriptedModel, *nn.SGD) {
	t.Helper()
	opt, err := nn.NewSGD(0.1, 0, 0)
	if err != nil {
		t.Fatalf("sgd: %v", err)
	}
	model := &scriptedModel{losses: losses}
	train := &memSource{batchSize: 2}
	for i := 0; i < 6; i++ {
		train.x = append(train.x, []float64{0})
		train.y = append(train.y, i%2)
	}
	return Config{
		Model:          model,
		Optimizer:      opt,
		Network:        nn.Spec{Input: 1, Hidden: 1, Classes: 2},
		Train:          train,
		Val:            zeros(3, 1),
		Epochs:         epochs,
		Classes:        []string{"a", "b"},
		Scheduler:      control.SchedulerConfig{Patience: 100, Factor: 0.5},
		EarlyStopping:  control.StopConfig{Patience: 100},
		CheckpointPath: filepath.Join(t.TempDir(), "model.json"),
		Rand:           rand.New(rand.NewPCG(1, 1)),
	}, model, opt
}

func TestRun_EarlyStopsAfterPatience(t *testing.T) {
	cfg, _, _ := scriptedConfig(t, []float64{1.0, 0.9, 0.95, 0.96, 0.97, 0.5, 0.4}, 7)
	cfg.EarlyStopping = control.StopConfig{Patience: 3}
	sink := tracking.NewMemorySink()
	events := NewMemoryPublisher()
	cfg.Sink = sink
	cfg.Events = events

	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.State.Stopped || res.State.Epoch != 5 || res.History.Len() != 5 {
		t.Fatalf("state=%+v history=%d", res.State, res.History.Len())
	}
	if math.Abs(res.State.BestValidationLoss-0.9) > 1e-9 {
		t.Fatalf("best=%v", res.State.BestValidationLoss)
	}
	if res.State.PatienceCounter != 3 {
		t.Fatalf("patience counter=%d", res.State.PatienceCounter)
	}
	if got := len(sink.Records()); got != 5 {
		t.Fatalf("sink records=%d", got)
	}
	names := strings.Join(events.Names(), ",")
	if strings.Count(names, EventCheckpointSaved) != 1 || !strings.Contains(names, EventEarlyStop) {
		t.Fatalf("events=%s", names)
	}
	if !strings.HasSuffix(names, EventTrainEnd) {
		t.Fatalf("train_end should be last: %s", names)
	}
	c, err := checkpoint.Load(res.CheckpointPath)
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if c.Epoch != 5 || c.Metadata["run_id"] != res.RunID || c.Metadata["stopped"] != "true" {
		t.Fatalf("checkpoint=%+v", c)
	}
}

func TestRun_ReducesLearningRateOnPlateau(t *testing.T) {
	cfg, _, opt := scriptedConfig(t, []float64{1, 1, 1, 1, 1}, 5)
	cfg.Scheduler = control.SchedulerConfig{Patience: 2, Factor: 0.5}
	events := NewMemoryPublisher()
	cfg.Events = events
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []float64{0.1, 0.1, 0.1, 0.05, 0.05}
	for i, m := range res.History.Epochs() {
		if math.Abs(m.LearningRate-want[i]) > 1e-12 {
			t.Fatalf("epoch %d lr=%v want %v", m.Epoch, m.LearningRate, want[i])
		}
	}
	if math.Abs(opt.LearningRate()-0.025) > 1e-12 {
		t.Fatalf("final lr=%v", opt.LearningRate())
	}
	if res.Scheduler.Reductions != 2 || math.Abs(res.Scheduler.CurrentFactor-0.25) > 1e-12 {
		t.Fatalf("scheduler=%+v", res.Scheduler)
	}
	reduced := 0
	for _, n := range events.Names() {
		if n == EventLRReduced {
			reduced++
		}
	}
	if reduced != 2 {
		t.Fatalf("lr_reduced events=%d", reduced)
	}
	c, _ := checkpoint.Load(res.CheckpointPath)
	if math.Abs(c.LearningRate-0.025) > 1e-12 {
		t.Fatalf("checkpoint lr=%v", c.LearningRate)
	}
}

func TestRun_RunsAllEpochsWithoutStop(t *testing.T) {
	cfg, _, _ := scriptedConfig(t, []float64{1, 0.9, 0.8}, 3)
	tr, _ := New(cfg)
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State.Stopped || res.State.Epoch != 3 {
		t.Fatalf("state=%+v", res.State)
	}
	// train loss is a per-sample mean of the constant batch loss
	for _, v := range res.History.TrainLoss() {
		if v != 1 {
			t.Fatalf("train loss=%v", v)
		}
	}
}

func TestRun_CancelledStillWritesCheckpoint(t *testing.T) {
	cfg, _, _ := scriptedConfig(t, []float64{1}, 3)
	tr, _ := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := tr.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if res.History.Len() != 0 || res.State.Epoch != 0 {
		t.Fatalf("history=%d state=%+v", res.History.Len(), res.State)
	}
	if _, err := os.Stat(cfg.CheckpointPath); err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
}

type fakeUploader struct {
	calls int
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, path string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", checkpoint.UploadError{Target: "s3://b/k", Err: f.err}
	}
	return "s3://b/" + filepath.Base(path), nil
}

func TestRun_UploadsOnce(t *testing.T) {
	cfg, _, _ := scriptedConfig(t, []float64{1, 0.5}, 2)
	up := &fakeUploader{}
	cfg.Uploader = up
	tr, _ := New(cfg)
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if up.calls != 1 || res.UploadURI != "s3://b/model.json" {
		t.Fatalf("calls=%d uri=%s", up.calls, res.UploadURI)
	}
}

func TestRun_UploadFailureIsReturned(t *testing.T) {
	cfg, _, _ := scriptedConfig(t, []float64{1}, 1)
	cfg.Uploader = &fakeUploader{err: errors.New("denied")}
	tr, _ := New(cfg)
	res, err := tr.Run(context.Background())
	if !checkpoint.IsUploadError(err) {
		t.Fatalf("err=%v", err)
	}
	if res.CheckpointPath == "" {
		t.Fatalf("checkpoint should be saved before upload")
	}
}

type brokenSink struct{}

func (brokenSink) Log(context.Context, tracking.Record) error { panic("tracking backend down") }
func (brokenSink) Close() error                               { return errors.New("close failed") }

func TestRun_SinkFailuresDoNotAbort(t *testing.T) {
	cfg, _, _ := scriptedConfig(t, []float64{1, 0.9}, 2)
	cfg.Sink = brokenSink{}
	tr, _ := New(cfg)
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.History.Len() != 2 {
		t.Fatalf("history=%d", res.History.Len())
	}
}

func TestNew_Validation(t *testing.T) {
	base, _, _ := scriptedConfig(t, []float64{1}, 1)
	cases := map[string]func(*Config){
		"model":      func(c *Config) { c.Model = nil },
		"optimizer":  func(c *Config) { c.Optimizer = nil },
		"train":      func(c *Config) { c.Train = &memSource{} },
		"val":        func(c *Config) { c.Val = nil },
		"epochs":     func(c *Config) { c.Epochs = 0 },
		"checkpoint": func(c *Config) { c.CheckpointPath = "" },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if _, err := New(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	cfg := base
	cfg.Scheduler.Factor = 1
	if _, err := New(cfg); !control.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func writeShadePNG(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.Set(0, 0, color.Gray{Y: shade / 2})
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestRun_EndToEndOnImageFolder(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 12; i++ {
		writeShadePNG(t, filepath.Join(root, "dark", "img"+string(rune('a'+i))+".png"), 20)
	}
	for i := 0; i < 8; i++ {
		writeShadePNG(t, filepath.Join(root, "light", "img"+string(rune('a'+i))+".png"), 230)
	}
	folder, err := dataset.ScanDir(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	rng := rand.New(rand.NewPCG(7, 7))
	trainS, valS, err := dataset.Split(folder.Samples, 0.75, 0.25, rng)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	trainL, _ := dataset.NewLoader(trainS, dataset.TrainTransform(4, 0), 4, rng)
	valL, _ := dataset.NewLoader(valS, dataset.EvalTransform(4), 4, nil)
	testL, _ := dataset.NewLoader(folder.Samples, dataset.EvalTransform(4), 8, nil)

	spec := nn.Spec{Input: 16, Hidden: 8, Classes: 2}
	net, err := nn.NewEmotionNet(spec, rng)
	if err != nil {
		t.Fatalf("net: %v", err)
	}
	opt, _ := nn.NewSGD(0.2, 0.5, 0)
	sink := tracking.NewMemorySink()
	cfg := Config{
		Model:          net,
		Optimizer:      opt,
		Train:          trainL,
		Val:            valL,
		Test:           testL,
		Epochs:         40,
		Classes:        folder.Classes,
		ImageSize:      4,
		Scheduler:      control.DefaultSchedulerConfig(),
		EarlyStopping:  control.DefaultStopConfig(),
		CheckpointPath: filepath.Join(t.TempDir(), "out", "model.pb"),
		Sink:           sink,
		Rand:           rng,
	}
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	first := res.History.Epochs()[0]
	last, _ := res.History.Last()
	if !(last.ValLoss < first.ValLoss) {
		t.Fatalf("val loss did not improve: first=%v last=%v", first.ValLoss, last.ValLoss)
	}
	if res.Report == nil || res.Report.Accuracy < 0.99 || res.Report.Total != 20 {
		t.Fatalf("report=%+v", res.Report)
	}

	c, err := checkpoint.Load(res.CheckpointPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Network != spec || c.ImageSize != 4 || strings.Join(c.Classes, ",") != "dark,light" {
		t.Fatalf("checkpoint=%+v", c)
	}
	restored, err := c.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	rep, err := Evaluate(context.Background(), restored, testL, c.Classes)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if rep.Accuracy != res.Report.Accuracy {
		t.Fatalf("restored accuracy=%v want %v", rep.Accuracy, res.Report.Accuracy)
	}
}

func TestRun_DivergedWeightsStillCheckpointed(t *testing.T) {
	for _, name := range []string{"model.json", "model.pb"} {
		t.Run(name, func(t *testing.T) {
			cfg, _, _ := scriptedConfig(t, []float64{1, 1}, 2)
			cfg.Model = &divergingModel{scriptedModel{losses: []float64{1, 1}}}
			cfg.CheckpointPath = filepath.Join(t.TempDir(), name)
			tr, err := New(cfg)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			res, err := tr.Run(context.Background())
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !math.IsNaN(res.History.Epochs()[0].TrainLoss) {
				t.Fatalf("train loss=%v, want NaN", res.History.Epochs()[0].TrainLoss)
			}
			c, err := checkpoint.Load(res.CheckpointPath)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if w := c.Tensors[0].Data[0]; !math.IsInf(w, -1) && !math.IsNaN(w) {
				t.Fatalf("weight=%v, want non-finite", w)
			}
		})
	}
}

func TestRun_SecondRunStartsFreshControllers(t *testing.T) {
	losses := []float64{1.0, 0.9, 0.95, 0.96, 0.97}
	cfg, model, _ := scriptedConfig(t, append(append([]float64(nil), losses...), losses...), 5)
	cfg.EarlyStopping = control.StopConfig{Patience: 3}
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for run := 1; run <= 2; run++ {
		res, err := tr.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if res.History.Len() != 5 || res.State.Epoch != 5 || !res.State.Stopped {
			t.Fatalf("run %d: history=%d state=%+v", run, res.History.Len(), res.State)
		}
		if math.Abs(res.State.BestValidationLoss-0.9) > 1e-9 {
			t.Fatalf("run %d: best=%v", run, res.State.BestValidationLoss)
		}
	}
	if model.calls != 10 {
		t.Fatalf("forward calls=%d", model.calls)
	}
}
