// Package logflags turns per-layer debug logging on and off.
package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var locate = false
var split = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Locate returns true if the locate package should log.
func Locate() bool {
	return locate
}

// LocateLogger returns a logger for the locate package.
func LocateLogger() *logrus.Entry {
	return makeLogger(locate, logrus.Fields{"layer": "locate"})
}

// Split returns true if the split-unit resolver should log.
func Split() bool {
	return split
}

// SplitLogger returns a logger for the split-unit resolver.
func SplitLogger() *logrus.Entry {
	return makeLogger(split, logrus.Fields{"layer": "split"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "locate"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "locate":
			locate = true
		case "split":
			split = true
		}
	}
	return nil
}
