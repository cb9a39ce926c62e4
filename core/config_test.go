package core

import (
	"reflect"
	"testing"
)

func Test_parseIDs(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want []int64
	}{
		{name: "empty", raw: nil, want: []int64{}},
		{name: "ids", raw: []string{"1", " 42 "}, want: []int64{1, 42}},
		{name: "invalid entries", raw: []string{"lol", "0", "-3", "7"}, want: []int64{7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseIDs(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseIDs() = %v, want %v", got, tt.want)
			}
		})
	}
}
