// Package checkpoint persists trained networks.
//
// A checkpoint is a serialization container holding every named parameter
// and the model.Config needed to rebuild the network, so Load returns a
// network that produces the same predictions as the one that was saved.
package checkpoint

import (
	"encoding/json"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/born-ml/capsnet/internal/model"
	"github.com/born-ml/capsnet/internal/serialization"
	"github.com/born-ml/capsnet/internal/tensor"
)

// Extension is appended to every checkpoint file name.
const Extension = ".pth.tar"

const timestampLayout = "2006-01-02 15:04:05.000000"

// ErrorRate returns round((1 - accuracy)·100, 2).
func ErrorRate(accuracy float64) float64 {
	return math.Round((1-accuracy)*100*100) / 100
}

// FileName returns "<error_rate>_<timestamp>.pth.tar". The error rate always
// carries a fractional part ("2.0", "1.25") and the timestamp has its space
// replaced by a dash.
func FileName(accuracy float64, now time.Time) string {
	rate := strconv.FormatFloat(ErrorRate(accuracy), 'f', -1, 64)
	if !strings.ContainsAny(rate, ".eE") {
		rate += ".0"
	}
	stamp := strings.ReplaceAll(now.Format(timestampLayout), " ", "-")
	return rate + "_" + stamp + Extension
}

// Path joins saveDir and FileName.
func Path(saveDir string, accuracy float64, now time.Time) string {
	return filepath.Join(saveDir, FileName(accuracy, now))
}

// Save writes net to path. metadata is stored verbatim in the file header.
func Save[B tensor.Backend](path string, net model.Network[B], metadata map[string]string) error {
	cfg := net.Config()
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode model config")
	}
	header := serialization.Header{
		ModelType: cfg.Architecture.String(),
		Metadata:  metadata,
		Model:     cfgJSON,
	}
	if err := serialization.Save(path, net.StateDict(), header); err != nil {
		return errors.Wrapf(err, "save checkpoint %s", path)
	}
	return nil
}

// Load rebuilds the network stored at path on backend.
func Load[B tensor.Backend](path string, backend B) (model.Network[B], serialization.Header, error) {
	stateDict, header, err := serialization.Load(path)
	if err != nil {
		return nil, header, errors.Wrapf(err, "load checkpoint %s", path)
	}
	if len(header.Model) == 0 {
		return nil, header, errors.Errorf("checkpoint %s has no model config", path)
	}
	var cfg model.Config
	if err := json.Unmarshal(header.Model, &cfg); err != nil {
		return nil, header, errors.Wrapf(err, "decode model config of %s", path)
	}
	net, err := model.New(cfg, backend)
	if err != nil {
		return nil, header, errors.Wrapf(err, "rebuild model from %s", path)
	}
	if err := net.LoadStateDict(stateDict); err != nil {
		return nil, header, errors.Wrapf(err, "restore parameters from %s", path)
	}
	return net, header, nil
}
