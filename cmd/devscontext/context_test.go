package main

import (
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/devscontext/internal/gitrepo"
)

func TestResolveTaskID(t *testing.T) {
	branchDir := t.TempDir()
	repo, err := git.PlainInit(branchDir, false)
	require.NoError(t, err)
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("feature/proj-42-login"))
	require.NoError(t, repo.Storer.SetReference(head))

	mainDir := t.TempDir()
	repo, err = git.PlainInit(mainDir, false)
	require.NoError(t, err)
	head = plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))
	require.NoError(t, repo.Storer.SetReference(head))

	tests := []struct {
		name       string
		args       []string
		fromBranch bool
		dir        string
		want       string
		wantErr    string
		wantIs     error
	}{
		{name: "explicit", args: []string{" PROJ-7 "}, want: "PROJ-7"},
		{name: "explicit and branch", args: []string{"PROJ-7"}, fromBranch: true, wantErr: "not both"},
		{name: "blank", args: []string{"  "}, wantErr: "empty"},
		{name: "nothing", wantErr: "task ID is required"},
		{name: "from branch", fromBranch: true, dir: branchDir, want: "PROJ-42"},
		{name: "branch without key", fromBranch: true, dir: mainDir, wantIs: gitrepo.ErrNoTaskID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.dir
			if dir == "" {
				dir = t.TempDir()
			}
			got, err := resolveTaskID(tt.args, tt.fromBranch, dir)
			switch {
			case tt.wantIs != nil:
				assert.ErrorIs(t, err, tt.wantIs)
			case tt.wantErr != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
