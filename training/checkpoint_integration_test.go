package training

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pascalrobust/advtrain/checkpoints"
)

func TestCheckpointManagerDefaultSchedule(t *testing.T) {
	manager, err := NewCheckpointManager(DefaultCheckpointConfig(), nil)
	require.NoError(t, err)

	var saved []int
	for epoch := 0; epoch < 200; epoch++ {
		if manager.ShouldSave(epoch) {
			saved = append(saved, epoch)
		}
	}
	assert.Equal(t, []int{24, 49, 74, 99, 124, 149, 174, 199}, saved)

	for _, epoch := range saved {
		path, err := manager.Path(epoch)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("./model_%d_Test.pth", epoch), path)
	}
}

func TestCheckpointManagerCustomPolicy(t *testing.T) {
	config := DefaultCheckpointConfig()
	config.Policy = checkpoints.PolicyFunc(func(epoch int) bool { return epoch%2 == 0 })
	config.FilenamePattern = "{{.Dir}}{{.Exp}}-{{.Epoch}}.ckpt.xz"
	config.SaveDirectory = "runs"
	config.Experiment = "voc"
	manager, err := NewCheckpointManager(config, nil)
	require.NoError(t, err)

	assert.True(t, manager.ShouldSave(4))
	assert.False(t, manager.ShouldSave(5))
	path, err := manager.Path(4)
	require.NoError(t, err)
	assert.Equal(t, "runs/voc-4.ckpt.xz", path)
}

func TestCheckpointManagerSkipsUnselectedEpoch(t *testing.T) {
	config := DefaultCheckpointConfig()
	config.SaveDirectory = t.TempDir()
	manager, err := NewCheckpointManager(config, nil)
	require.NoError(t, err)

	path, err := manager.MaybeSave(3, 10, denseModel(t), nil, EpochResult{})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, manager.SavedFiles())
}

func TestCheckpointManagerBadPattern(t *testing.T) {
	config := DefaultCheckpointConfig()
	config.FilenamePattern = "{{.Epoch"
	_, err := NewCheckpointManager(config, nil)
	assert.Error(t, err)
}
