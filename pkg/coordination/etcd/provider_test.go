package etcd_test

import (
	"testing"

	"stagerun/pkg/coordination/etcd"
	"stagerun/pkg/resource"
)

func TestDecodeResources(t *testing.T) {
	cfgs, err := etcd.DecodeResources([]etcd.Entry{
		{Key: etcd.ResourcePrefix + "a", Value: []byte(`{"label":"local","kind":"local","working_dir":"/tmp/work"}`)},
		{Key: etcd.ResourcePrefix + "gpu-node", Value: []byte(`{"kind":"ssh","host":"10.0.0.4","working_dir":"/scratch"}`)},
	})
	if err != nil {
		t.Fatalf("DecodeResources: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("got %d configs, want 2", len(cfgs))
	}
	if cfgs[0].Label != "local" || cfgs[0].WorkingDir != "/tmp/work" {
		t.Errorf("unexpected first config: %+v", cfgs[0])
	}
	if cfgs[1].Label != "gpu-node" || cfgs[1].Kind != resource.KindSSH {
		t.Errorf("label should default to key suffix: %+v", cfgs[1])
	}
}

func TestDecodeResources_Invalid(t *testing.T) {
	cases := map[string][]byte{
		"bad json":     []byte(`{`),
		"relative dir": []byte(`{"label":"x","working_dir":"rel"}`),
		"ssh no host":  []byte(`{"label":"x","kind":"ssh","working_dir":"/w"}`),
	}
	for name, val := range cases {
		if _, err := etcd.DecodeResources([]etcd.Entry{{Key: etcd.ResourcePrefix + "x", Value: val}}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
