package profiling

import (
	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"rovernet/internal/config"
)

type logger struct{}

func (logger) Infof(format string, args ...interface{}) {
	logs.Infof("pyroscope: "+format, args...)
}

func (logger) Debugf(_ string, _ ...interface{}) {}

func (logger) Errorf(format string, args ...interface{}) {
	logs.Errorf("pyroscope: "+format, args...)
}

// Start begins continuous profiling for node when enabled. The returned stop
// func is never nil.
func Start(cfg config.Profiling, node string) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName + "." + node,
		ServerAddress:   cfg.ServerAddress,
		Tags: map[string]string{
			"node": node,
		},
		Logger: logger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return func() {}, errors.Wrap(err, "start pyroscope")
	}
	return func() {
		if err := profiler.Stop(); err != nil {
			logs.Errorf("stop pyroscope, err: %+v", err)
		}
	}, nil
}
