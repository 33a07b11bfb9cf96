package tileio

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// MetricsLog appends one CSV line per epoch and split.
type MetricsLog struct {
	f *os.File
}

func NewMetricsLog(path string, metricNames []string) (*MetricsLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	header := append([]string{"epoch", "split", "loss"}, metricNames...)
	if _, err := f.WriteString(strings.Join(header, ",") + "\n"); err != nil {
		if cerr := f.Close(); cerr != nil {
			logrus.Error(cerr)
		}
		return nil, err
	}
	return &MetricsLog{f: f}, nil
}

func (m *MetricsLog) Write(epoch int, split string, loss float64, metrics []float64) error {
	fields := []string{fmt.Sprint(epoch), split, fmt.Sprint(loss)}
	for _, v := range metrics {
		fields = append(fields, fmt.Sprint(v))
	}
	_, err := m.f.WriteString(strings.Join(fields, ",") + "\n")
	return err
}

func (m *MetricsLog) Close() error {
	if err := m.f.Sync(); err != nil {
		logrus.Error(err)
	}
	return m.f.Close()
}
