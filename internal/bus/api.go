package bus

import "context"

// GetCrashInfos lists the crashes visible to the caller.
func (c *Client) GetCrashInfos(ctx context.Context) ([]map[string]string, error) {
	var out []map[string]string
	if err := c.Call(ctx, MethodGetCrashInfos, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateReport prepares a crash for reporting and returns its record.
func (c *Client) CreateReport(ctx context.Context, crashID string) (map[string]string, error) {
	var out map[string]string
	if err := c.Call(ctx, MethodCreateReport, crashID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Report runs reporters over a crash record.
func (c *Client) Report(ctx context.Context, req ReportRequest) (map[string]ReportResult, error) {
	var out map[string]ReportResult
	if err := c.Call(ctx, MethodReport, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDebugDump removes a crash and its dump directory.
func (c *Client) DeleteDebugDump(ctx context.Context, crashID string) error {
	return c.Call(ctx, MethodDeleteDebugDump, crashID, nil)
}

// GetPluginsInfo describes every known plugin.
func (c *Client) GetPluginsInfo(ctx context.Context) ([]map[string]string, error) {
	var out []map[string]string
	if err := c.Call(ctx, MethodGetPluginsInfo, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPluginSettings returns one plugin's settings.
func (c *Client) GetPluginSettings(ctx context.Context, name string) (map[string]string, error) {
	var out map[string]string
	if err := c.Call(ctx, MethodGetPluginSettings, name, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetPluginSettings replaces one plugin's settings.
func (c *Client) SetPluginSettings(ctx context.Context, name string, settings map[string]string) error {
	return c.Call(ctx, MethodSetPluginSettings, PluginSettingsRequest{Name: name, Settings: settings}, nil)
}

// RegisterPlugin loads a plugin regardless of its Enabled setting.
func (c *Client) RegisterPlugin(ctx context.Context, name string) error {
	return c.Call(ctx, MethodRegisterPlugin, name, nil)
}

// UnRegisterPlugin unloads a plugin.
func (c *Client) UnRegisterPlugin(ctx context.Context, name string) error {
	return c.Call(ctx, MethodUnRegisterPlugin, name, nil)
}

// GetSettings returns the daemon settings in flat key/value form.
func (c *Client) GetSettings(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := c.Call(ctx, MethodGetSettings, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSettings updates daemon settings.
func (c *Client) SetSettings(ctx context.Context, values map[string]string) error {
	return c.Call(ctx, MethodSetSettings, values, nil)
}
