package hardware

import (
	"fmt"
	"sort"

	"github.com/wfunc/serial-scope/internal/errors"
	"go.bug.st/serial/enumerator"
)

// PortInfo 串口设备信息
type PortInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// String 返回 "名称 - 描述" 形式的显示文本
func (p PortInfo) String() string {
	if p.Description == "" {
		return p.Name
	}
	return fmt.Sprintf("%s - %s", p.Name, p.Description)
}

// detailedPortsList 枚举函数，测试时替换
var detailedPortsList = enumerator.GetDetailedPortsList

// ListPorts 枚举系统中的串口，按名称排序
func ListPorts() ([]PortInfo, error) {
	details, err := detailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrSerialEnumerate)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		info := PortInfo{
			Name:        d.Name,
			Description: d.Product,
			IsUSB:       d.IsUSB,
		}
		if d.IsUSB {
			info.VID = d.VID
			info.PID = d.PID
			info.SerialNumber = d.SerialNumber
			if info.Description == "" {
				info.Description = fmt.Sprintf("USB VID:PID=%s:%s", d.VID, d.PID)
			}
		}
		ports = append(ports, info)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}
