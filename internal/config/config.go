package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the full configuration of a training run and the inference
// server. Default returns the values used when a field is not set.
type Config struct {
	Hyperparameters Hyperparameters `json:"hyperparameters" yaml:"hyperparameters" toml:"hyperparameters"`
	Dataset         Dataset         `json:"dataset" yaml:"dataset" toml:"dataset"`
	Model           Model           `json:"model" yaml:"model" toml:"model"`
	Scheduler       Scheduler       `json:"scheduler" yaml:"scheduler" toml:"scheduler"`
	EarlyStopping   EarlyStopping   `json:"early_stopping" yaml:"early_stopping" toml:"early_stopping"`
	Checkpoint      Checkpoint      `json:"checkpoint" yaml:"checkpoint" toml:"checkpoint"`
	Tracking        Tracking        `json:"tracking" yaml:"tracking" toml:"tracking"`
	Serve           Serve           `json:"serve" yaml:"serve" toml:"serve"`
	Log             Log             `json:"log" yaml:"log" toml:"log"`
}

type Hyperparameters struct {
	BatchSize   int     `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	LR          float64 `json:"lr" yaml:"lr" toml:"lr"`
	Momentum    float64 `json:"momentum" yaml:"momentum" toml:"momentum"`
	WeightDecay float64 `json:"weight_decay" yaml:"weight_decay" toml:"weight_decay"`
	NumEpochs   int     `json:"num_epochs" yaml:"num_epochs" toml:"num_epochs"`
	Seed        uint64  `json:"seed" yaml:"seed" toml:"seed"`
}

type Dataset struct {
	TrainDir   string  `json:"train_dir" yaml:"train_dir" toml:"train_dir"`
	TestDir    string  `json:"test_dir" yaml:"test_dir" toml:"test_dir"`
	TrainSplit float64 `json:"train_split" yaml:"train_split" toml:"train_split"`
	ValSplit   float64 `json:"val_split" yaml:"val_split" toml:"val_split"`
	ImageSize  int     `json:"image_size" yaml:"image_size" toml:"image_size"`
	CropPad    int     `json:"crop_pad" yaml:"crop_pad" toml:"crop_pad"`
}

type Model struct {
	Hidden int `json:"hidden" yaml:"hidden" toml:"hidden"`
}

type Scheduler struct {
	Patience int     `json:"patience" yaml:"patience" toml:"patience"`
	Factor   float64 `json:"factor" yaml:"factor" toml:"factor"`
	MinDelta float64 `json:"min_delta" yaml:"min_delta" toml:"min_delta"`
	MinLR    float64 `json:"min_lr" yaml:"min_lr" toml:"min_lr"`
}

type EarlyStopping struct {
	Patience int     `json:"patience" yaml:"patience" toml:"patience"`
	MinDelta float64 `json:"min_delta" yaml:"min_delta" toml:"min_delta"`
}

type Checkpoint struct {
	Path   string `json:"path" yaml:"path" toml:"path"`
	Format string `json:"format" yaml:"format" toml:"format"`
	Upload Upload `json:"upload" yaml:"upload" toml:"upload"`
}

// Upload targets S3. An empty bucket disables uploading.
type Upload struct {
	Bucket string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Key    string `json:"key" yaml:"key" toml:"key"`
	Region string `json:"region" yaml:"region" toml:"region"`
}

type Tracking struct {
	JSONLPath      string `json:"jsonl_path" yaml:"jsonl_path" toml:"jsonl_path"`
	SQLDriver      string `json:"sql_driver" yaml:"sql_driver" toml:"sql_driver"`
	SQLDSN         string `json:"sql_dsn" yaml:"sql_dsn" toml:"sql_dsn"`
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url" toml:"pushgateway_url"`
	Project        string `json:"project" yaml:"project" toml:"project"`
	RunName        string `json:"run_name" yaml:"run_name" toml:"run_name"`
	HistoryCSV     string `json:"history_csv" yaml:"history_csv" toml:"history_csv"`
}

type Serve struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	Checkpoint   string `json:"checkpoint" yaml:"checkpoint" toml:"checkpoint"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORS         CORS   `json:"cors" yaml:"cors" toml:"cors"`
}

type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

type Log struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// DefaultMountDir is where the server looks for the checkpoint when MNT_DIR
// is not set.
const DefaultMountDir = "/mnt/nfs/filestore"

// DefaultCheckpointName is the checkpoint file name used by train and serve.
const DefaultCheckpointName = "my_model.json"

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Hyperparameters: Hyperparameters{BatchSize: 32, LR: 0.01, NumEpochs: 50, Seed: 42},
		Dataset: Dataset{
			TrainDir:   filepath.Join("data", "raw", "train"),
			TestDir:    filepath.Join("data", "raw", "test"),
			TrainSplit: 0.9,
			ValSplit:   0.1,
			ImageSize:  48,
			CropPad:    4,
		},
		Model:         Model{Hidden: 256},
		Scheduler:     Scheduler{Patience: 5, Factor: 0.5, MinLR: 1e-6},
		EarlyStopping: EarlyStopping{Patience: 10},
		Checkpoint:    Checkpoint{Path: filepath.Join("models", DefaultCheckpointName)},
		Tracking:      Tracking{Project: "emotiond"},
		Serve: Serve{
			Addr:         ":8080",
			Checkpoint:   filepath.Join(DefaultMountDir, DefaultCheckpointName),
			MaxBodyBytes: 10 << 20,
		},
		Log: Log{Level: "info", Format: "auto"},
	}
}

// ApplyEnv overlays environment variables. getenv is usually os.Getenv.
//
//	MNT_DIR                   serve.checkpoint = $MNT_DIR/my_model.json
//	EMOTIOND_ADDR             serve.addr
//	EMOTIOND_CHECKPOINT       serve.checkpoint (wins over MNT_DIR)
//	EMOTIOND_TRAIN_DIR        dataset.train_dir
//	EMOTIOND_TEST_DIR         dataset.test_dir
//	EMOTIOND_LOG_LEVEL        log.level
//	EMOTIOND_LOG_FORMAT       log.format
//	EMOTIOND_S3_BUCKET        checkpoint.upload.bucket
//	EMOTIOND_PUSHGATEWAY_URL  tracking.pushgateway_url
//	EMOTIOND_SQL_DSN          tracking.sql_dsn
//	EMOTIOND_SQL_DRIVER       tracking.sql_driver
//	EMOTIOND_MAX_BODY_BYTES   serve.max_body_bytes
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("MNT_DIR"); v != "" {
		c.Serve.Checkpoint = filepath.Join(v, DefaultCheckpointName)
	}
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Serve.Addr, "EMOTIOND_ADDR")
	set(&c.Serve.Checkpoint, "EMOTIOND_CHECKPOINT")
	set(&c.Dataset.TrainDir, "EMOTIOND_TRAIN_DIR")
	set(&c.Dataset.TestDir, "EMOTIOND_TEST_DIR")
	set(&c.Log.Level, "EMOTIOND_LOG_LEVEL")
	set(&c.Log.Format, "EMOTIOND_LOG_FORMAT")
	set(&c.Checkpoint.Upload.Bucket, "EMOTIOND_S3_BUCKET")
	set(&c.Tracking.PushgatewayURL, "EMOTIOND_PUSHGATEWAY_URL")
	set(&c.Tracking.SQLDSN, "EMOTIOND_SQL_DSN")
	set(&c.Tracking.SQLDriver, "EMOTIOND_SQL_DRIVER")
	if v := getenv("EMOTIOND_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("EMOTIOND_MAX_BODY_BYTES: %w", err)
		}
		c.Serve.MaxBodyBytes = n
	}
	return nil
}

// ValidateTrain checks the sections used by a training run.
func (c Config) ValidateTrain() error {
	var errs []error
	h := c.Hyperparameters
	if h.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("hyperparameters.batch_size must be >= 1 (got %d)", h.BatchSize))
	}
	if !(h.LR > 0) {
		errs = append(errs, fmt.Errorf("hyperparameters.lr must be > 0 (got %v)", h.LR))
	}
	if h.Momentum < 0 || h.Momentum >= 1 {
		errs = append(errs, fmt.Errorf("hyperparameters.momentum must be in [0, 1) (got %v)", h.Momentum))
	}
	if h.WeightDecay < 0 {
		errs = append(errs, fmt.Errorf("hyperparameters.weight_decay must be >= 0 (got %v)", h.WeightDecay))
	}
	if h.NumEpochs < 1 {
		errs = append(errs, fmt.Errorf("hyperparameters.num_epochs must be >= 1 (got %d)", h.NumEpochs))
	}
	d := c.Dataset
	if strings.TrimSpace(d.TrainDir) == "" {
		errs = append(errs, errors.New("dataset.train_dir is required"))
	}
	if d.TrainSplit <= 0 || d.TrainSplit > 1 {
		errs = append(errs, fmt.Errorf("dataset.train_split must be in (0, 1] (got %v)", d.TrainSplit))
	}
	if d.ValSplit <= 0 || d.ValSplit >= 1 {
		errs = append(errs, fmt.Errorf("dataset.val_split must be in (0, 1) (got %v)", d.ValSplit))
	}
	if d.ImageSize < 1 {
		errs = append(errs, fmt.Errorf("dataset.image_size must be >= 1 (got %d)", d.ImageSize))
	}
	if d.CropPad < 0 {
		errs = append(errs, fmt.Errorf("dataset.crop_pad must be >= 0 (got %d)", d.CropPad))
	}
	if c.Model.Hidden < 1 {
		errs = append(errs, fmt.Errorf("model.hidden must be >= 1 (got %d)", c.Model.Hidden))
	}
	if strings.TrimSpace(c.Checkpoint.Path) == "" {
		errs = append(errs, errors.New("checkpoint.path is required"))
	}
	switch strings.ToLower(c.Checkpoint.Format) {
	case "", "json", "pb", "protobuf", "proto":
	default:
		errs = append(errs, fmt.Errorf("checkpoint.format %q is not json or pb", c.Checkpoint.Format))
	}
	switch c.Tracking.SQLDriver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("tracking.sql_driver %q is not sqlite or postgres", c.Tracking.SQLDriver))
	}
	if c.Tracking.SQLDriver != "" && c.Tracking.SQLDSN == "" {
		errs = append(errs, errors.New("tracking.sql_dsn is required when sql_driver is set"))
	}
	// Controller bounds are checked by their constructors.
	return errors.Join(errs...)
}

// ValidateServe checks the sections used by the inference server.
func (c Config) ValidateServe() error {
	var errs []error
	if strings.TrimSpace(c.Serve.Addr) == "" {
		errs = append(errs, errors.New("serve.addr is required"))
	}
	if strings.TrimSpace(c.Serve.Checkpoint) == "" {
		errs = append(errs, errors.New("serve.checkpoint is required"))
	}
	if c.Serve.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("serve.max_body_bytes must be >= 0 (got %d)", c.Serve.MaxBodyBytes))
	}
	return errors.Join(errs...)
}
