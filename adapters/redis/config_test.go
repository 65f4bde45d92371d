package redisstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigOptions(t *testing.T) {
	tests := []struct {
		addr string
		want []string
	}{
		{addr: "localhost:6379", want: []string{"localhost:6379"}},
		{addr: "a:7000, b:7001,,c:7002", want: []string{"a:7000", "b:7001", "c:7002"}},
		{addr: "", want: nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Config{Addr: tt.addr}.options().Addrs, tt.addr)
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	_, err := New(Config{Addr: " "})
	assert.Error(t, err)
}
