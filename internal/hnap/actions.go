package hnap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// HNAP module IDs. Each capability of a device lives behind a numbered
// module; the IDs are fixed across the supported model range.
const (
	moduleSocket      = 1
	modulePower       = 2
	moduleTemperature = 3
)

// millisPerSecond scales device-reported unix seconds to milliseconds.
const millisPerSecond = 1000

// DeviceSettings is the identity block reported by GetDeviceSettings.
type DeviceSettings struct {
	MAC              string
	ModelName        string
	ModelDescription string
	DeviceName       string
	FirmwareVersion  string
	HardwareVersion  string
}

// Switch sets the socket relay on or off.
func (c *Client) Switch(ctx context.Context, on bool) error {
	body := fmt.Sprintf(
		"<ModuleID>%d</ModuleID><NickName>Socket 1</NickName><Description>Socket 1</Description>"+
			"<OPStatus>%t</OPStatus><Controller>1</Controller>",
		moduleSocket, on,
	)
	_, err := c.Value(ctx, "SetSocketSettings", "SetSocketSettingsResult", body)
	return err
}

// State reads the socket relay state.
func (c *Client) State(ctx context.Context) (bool, error) {
	body := fmt.Sprintf("<ModuleID>%d</ModuleID>", moduleSocket)
	result, err := c.Value(ctx, "GetSocketSettings", "OPStatus", body)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(result, "true"), nil
}

// LastDetection returns the most recent sensor trigger time in unix
// milliseconds. The device reports unix seconds; the value is scaled
// so downstream consumers work in a single unit.
func (c *Client) LastDetection(ctx context.Context) (int64, error) {
	body := fmt.Sprintf("<ModuleID>%d</ModuleID>", moduleSocket)
	result, err := c.Value(ctx, "GetLatestDetection", "LatestDetectTime", body)
	if err != nil {
		return 0, err
	}

	seconds, err := strconv.ParseFloat(result, 64)
	if err != nil {
		return 0, fmt.Errorf("hnap: parsing detection time %q: %w", result, err)
	}
	return int64(seconds * millisPerSecond), nil
}

// Consumption returns the instantaneous power draw in watts.
func (c *Client) Consumption(ctx context.Context) (float64, error) {
	body := fmt.Sprintf("<ModuleID>%d</ModuleID>", modulePower)
	result, err := c.Value(ctx, "GetCurrentPowerConsumption", "CurrentConsumption", body)
	if err != nil {
		return 0, err
	}
	return parseFloatResult("consumption", result)
}

// TotalConsumption returns the cumulative consumption in kWh.
func (c *Client) TotalConsumption(ctx context.Context) (float64, error) {
	body := fmt.Sprintf("<ModuleID>%d</ModuleID>", modulePower)
	result, err := c.Value(ctx, "GetPMWarningThreshold", "TotalConsumption", body)
	if err != nil {
		return 0, err
	}
	return parseFloatResult("total consumption", result)
}

// Temperature returns the device's internal temperature in Celsius.
func (c *Client) Temperature(ctx context.Context) (float64, error) {
	body := fmt.Sprintf("<ModuleID>%d</ModuleID>", moduleTemperature)
	result, err := c.Value(ctx, "GetCurrentTemperature", "CurrentTemperature", body)
	if err != nil {
		return 0, err
	}
	return parseFloatResult("temperature", result)
}

// IsDeviceReady reports whether the device has finished booting.
// The device answers the literal "OK" once ready.
func (c *Client) IsDeviceReady(ctx context.Context) (bool, error) {
	result, err := c.Value(ctx, "IsDeviceReady", "IsDeviceReadyResult", "")
	if err != nil {
		return false, err
	}
	return result == "OK", nil
}

// Reboot asks the device to restart.
func (c *Client) Reboot(ctx context.Context) error {
	_, err := c.Value(ctx, "Reboot", "RebootResult", "")
	return err
}

// SetSoundPlay starts the siren with the given sound type, volume, and
// duration. Validation of the ranges happens in the device layer; the
// wire call passes values through verbatim.
func (c *Client) SetSoundPlay(ctx context.Context, soundType, volume, duration int) error {
	body := fmt.Sprintf(
		"<ModuleID>%d</ModuleID><Controller>1</Controller>"+
			"<SoundType>%d</SoundType><Volume>%d</Volume><Duration>%d</Duration>",
		moduleSocket, soundType, volume, duration,
	)
	_, err := c.Value(ctx, "SetSoundPlay", "SetSoundPlayResult", body)
	return err
}

// SetAlarmDismissed silences a sounding siren.
func (c *Client) SetAlarmDismissed(ctx context.Context) error {
	body := fmt.Sprintf("<ModuleID>%d</ModuleID><Controller>1</Controller>", moduleSocket)
	_, err := c.Value(ctx, "SetAlarmDismissed", "SetAlarmDismissedResult", body)
	return err
}

// GetSoundPlay reports whether the siren is currently sounding.
func (c *Client) GetSoundPlay(ctx context.Context) (bool, error) {
	body := fmt.Sprintf("<ModuleID>%d</ModuleID><Controller>1</Controller>", moduleSocket)
	result, err := c.Value(ctx, "GetSoundPlay", "IsSounding", body)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(result, "true"), nil
}

// GetDeviceSettings reads the device identity block. Fields a firmware
// doesn't report come back empty.
func (c *Client) GetDeviceSettings(ctx context.Context) (DeviceSettings, error) {
	fields := []string{
		"DeviceMacId", "ModelName", "ModelDescription",
		"DeviceName", "FirmwareVersion", "HardwareVersion",
	}
	values, err := c.Values(ctx, "GetDeviceSettings", fields, "")
	if err != nil {
		return DeviceSettings{}, err
	}

	return DeviceSettings{
		MAC:              values["DeviceMacId"],
		ModelName:        values["ModelName"],
		ModelDescription: values["ModelDescription"],
		DeviceName:       values["DeviceName"],
		FirmwareVersion:  values["FirmwareVersion"],
		HardwareVersion:  values["HardwareVersion"],
	}, nil
}

// ModuleTypes returns the device's advertised module type list, used to
// sanity-check what a model claims to support.
func (c *Client) ModuleTypes(ctx context.Context) ([]string, error) {
	return c.List(ctx, "GetDeviceSettings", "ModuleTypes", "")
}

// DeviceDescriptionXML fetches the raw settings and module profile
// response bodies. Only used to build diagnostics reports for models
// the catalog doesn't recognise.
func (c *Client) DeviceDescriptionXML(ctx context.Context) (settings, profiles string, err error) {
	settings, err = c.Raw(ctx, "GetDeviceSettings", "")
	if err != nil {
		return "", "", err
	}
	profiles, err = c.Raw(ctx, "GetModuleProfiles", "")
	if err != nil {
		return "", "", err
	}
	return settings, profiles, nil
}

// parseFloatResult parses a numeric result value.
func parseFloatResult(what, result string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(result), 64)
	if err != nil {
		return 0, fmt.Errorf("hnap: parsing %s %q: %w", what, result, err)
	}
	return v, nil
}
