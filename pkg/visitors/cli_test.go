// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/tegracm/pkg/cm"
	"github.com/linuxboot/tegracm/pkg/platform"
	"github.com/linuxboot/tegracm/pkg/protocol"
	"github.com/linuxboot/tegracm/pkg/status"
)

func TestParseCLI(t *testing.T) {
	for _, tc := range []struct {
		name    string
		args    []string
		visitor []Visitor
		wantErr bool
	}{
		{"empty", nil, []Visitor{}, false},
		{"chain", []string{"sweep", "find", "cpu@.*", "build"}, nil, false},
		{"unknown", []string{"frobnicate"}, nil, true},
		{"too few", []string{"remove"}, nil, true},
		{"bad regexp", []string{"find", "("}, nil, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v, err := ParseCLI(tc.args)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.visitor != nil {
				assert.Equal(t, tc.visitor, v)
			}
		})
	}

	v, err := ParseCLI([]string{"sweep", "find", "cpu@.*", "build"})
	require.NoError(t, err)
	require.Len(t, v, 3)
	assert.IsType(t, &Sweep{}, v[0])
	assert.IsType(t, &Find{}, v[1])
	assert.IsType(t, &Build{}, v[2])
}

func TestListCLI(t *testing.T) {
	s := ListCLI()
	for _, name := range []string{"build", "cat", "count", "find", "json", "remove", "save", "sweep", "table", "validate"} {
		assert.Contains(t, s, "  "+name)
	}
}

func TestExecuteCLIStopsAtError(t *testing.T) {
	target := testTarget(t)
	var out bytes.Buffer
	err := ExecuteCLI(target, []Visitor{
		&Cat{Path: "/nope", Writer: &out},
		&Build{},
	})
	assert.ErrorIs(t, err, status.ErrNotFound)
	assert.Nil(t, target.Repo)
}

func TestRepositoryInstallsProtocol(t *testing.T) {
	target := testTarget(t)
	target.Protocols = protocol.NewRegistry()
	require.NoError(t, ExecuteCLI(target, []Visitor{&Build{}}))
	require.NotNil(t, target.Repo)

	repo, err := protocol.LocateAs[*cm.Repository](target.Protocols, cm.PlatformRepositoryGUID)
	require.NoError(t, err)
	assert.Same(t, target.Repo, repo)

	first := target.Repo
	require.NoError(t, (&Build{}).Run(target))
	assert.NotSame(t, first, target.Repo)
	repo, err = protocol.LocateAs[*cm.Repository](target.Protocols, cm.PlatformRepositoryGUID)
	require.NoError(t, err)
	assert.Same(t, target.Repo, repo)
}

func TestRepositoryUnsupportedChip(t *testing.T) {
	target := testTarget(t)
	target.Platform = platform.New(0x42, 0)
	_, err := target.Repository()
	assert.ErrorIs(t, err, status.ErrUnsupported)
}
