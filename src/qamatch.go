// Package qamatch is a dual-encoder question/answer matching model for Go.
//
// Questions and answers are token-id sequences. Both sides share one
// embedding table and one recurrent encoder, optionally followed by a
// self-attention pooling layer, and are compared with a learned bilinear
// score trained against in-batch negatives. Every hyperparameter lives in
// an explicit HParams record; there are no hidden defaults beyond the
// presets.
//
// Basic usage:
//
//	hp := qamatch.SoloBiAtt()
//	model, err := qamatch.New(hp, qamatch.ModelConfig{Seed: 42})
//	if err != nil {
//		return err
//	}
//
//	batch := qamatch.NewPairBatch(questions, answers, hp.XMaxLen, hp.YMaxLen)
//	res, err := model.Run(model.Step(batch, true))
//	if err != nil {
//		return err
//	}
//	fmt.Println(res.Scalar(qamatch.ShowLoss))
//
//	vec, err := model.Run(model.Infer([]int{4, 17, 9}))
package qamatch

import "github.com/sirupsen/logrus"

// Version of the qamatch library
const Version = "1.0.0"

// DebugMode enables verbose logging on the default logger
var DebugMode = false

var defaultLogger = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// SetDebug enables or disables debug mode
func SetDebug(enabled bool) {
	DebugMode = enabled
	if enabled {
		defaultLogger.SetLevel(logrus.DebugLevel)
	} else {
		defaultLogger.SetLevel(logrus.WarnLevel)
	}
}
