// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/device/devicetest"
)

const flagsPath = "/data/local/tmp/chrome-command-line"

func TestFlagChangerRestoresOriginal(t *testing.T) {
	ctx := context.Background()
	dev := devicetest.New("serial")
	dev.SetFile(flagsPath, []byte("_ --orig 'spaced value'\n"))

	fc, err := device.NewFlagChanger(ctx, dev, flagsPath)
	if err != nil {
		t.Fatal("NewFlagChanger failed: ", err)
	}
	if diff := cmp.Diff(fc.Flags(), []string{"--orig", "spaced value"}); diff != "" {
		t.Errorf("Flags mismatch (-got +want):\n%s", diff)
	}

	if err := fc.AddFlags(ctx, []string{"--foo", "--orig"}); err != nil {
		t.Fatal("AddFlags failed: ", err)
	}
	if err := fc.RemoveFlags(ctx, []string{"spaced value"}); err != nil {
		t.Fatal("RemoveFlags failed: ", err)
	}
	if b, _ := dev.File(flagsPath); string(b) != "_ --orig --foo\n" {
		t.Errorf("Flags file = %q; want %q", b, "_ --orig --foo\n")
	}

	if err := fc.Restore(ctx); err != nil {
		t.Fatal("Restore failed: ", err)
	}
	if b, _ := dev.File(flagsPath); string(b) != "_ --orig 'spaced value'\n" {
		t.Errorf("Flags file after Restore = %q", b)
	}
}

func TestFlagChangerRemovesCreatedFile(t *testing.T) {
	ctx := context.Background()
	dev := devicetest.New("serial")

	fc, err := device.NewFlagChanger(ctx, dev, flagsPath)
	if err != nil {
		t.Fatal("NewFlagChanger failed: ", err)
	}
	if err := fc.ReplaceFlags(ctx, []string{"--enable-test"}); err != nil {
		t.Fatal("ReplaceFlags failed: ", err)
	}
	if _, ok := dev.File(flagsPath); !ok {
		t.Fatal("Flags file was not written")
	}
	if err := fc.Restore(ctx); err != nil {
		t.Fatal("Restore failed: ", err)
	}
	if _, ok := dev.File(flagsPath); ok {
		t.Error("Flags file still exists after Restore")
	}
}

func TestSetTimeoutScale(t *testing.T) {
	ctx := context.Background()
	dev := devicetest.New("serial")

	restore, err := device.SetTimeoutScale(ctx, dev, 2.5)
	if err != nil {
		t.Fatal("SetTimeoutScale failed: ", err)
	}
	if b, _ := dev.File(device.TimeoutScaleFile); string(b) != "2.5" {
		t.Errorf("Timeout scale file = %q; want %q", b, "2.5")
	}
	if err := restore(ctx); err != nil {
		t.Fatal("restore failed: ", err)
	}
	if _, ok := dev.File(device.TimeoutScaleFile); ok {
		t.Error("Timeout scale file still exists after restore")
	}
}

func TestTempFile(t *testing.T) {
	ctx := context.Background()
	dev := devicetest.New("serial")

	f, err := device.NewTempFile(ctx, dev, "gtest_", ".xml")
	if err != nil {
		t.Fatal("NewTempFile failed: ", err)
	}
	dev.SetFile(f.Path, []byte("<xml/>"))
	if err := f.Close(ctx); err != nil {
		t.Fatal("Close failed: ", err)
	}
	if _, ok := dev.File(f.Path); ok {
		t.Errorf("%s still exists after Close", f.Path)
	}
}

func TestAtLeastSDK(t *testing.T) {
	ctx := context.Background()
	dev := devicetest.New("serial")
	dev.SDK = "22"
	if ok, err := device.AtLeastSDK(ctx, dev, 23); err != nil || ok {
		t.Errorf("AtLeastSDK(22, 23) = %v, %v; want false, nil", ok, err)
	}
	dev.SDK = "33"
	if ok, err := device.AtLeastSDK(ctx, dev, 23); err != nil || !ok {
		t.Errorf("AtLeastSDK(33, 23) = %v, %v; want true, nil", ok, err)
	}
}
