package models

import "time"

// Builder assembles a WorkflowDefinition fluently. Purely a convenience for
// code that constructs definitions programmatically (tests, seeders); the
// engine only ever sees the finished definition.
type Builder struct {
	def  WorkflowDefinition
	last string // id of the most recently added action, for Then chaining
}

func NewBuilder(id, tenantID, name string) *Builder {
	return &Builder{def: WorkflowDefinition{
		ID:       id,
		TenantID: tenantID,
		Name:     name,
		Version:  1,
		Status:   DraftWorkflowStatus,
	}}
}

func (b *Builder) ForEntity(entityType string) *Builder {
	b.def.EntityType = entityType
	return b
}

func (b *Builder) OnEvent(eventName string, conditions *ConditionGroup) *Builder {
	b.def.Triggers = append(b.def.Triggers, TriggerConfig{
		Type: EventTrigger, EventName: eventName, Conditions: conditions,
	})
	return b
}

func (b *Builder) OnSchedule(expression string) *Builder {
	b.def.Triggers = append(b.def.Triggers, TriggerConfig{Type: ScheduledTrigger, Schedule: expression})
	return b
}

func (b *Builder) Manual() *Builder {
	b.def.Triggers = append(b.def.Triggers, TriggerConfig{Type: ManualTrigger})
	return b
}

func (b *Builder) Variable(name string, kind VariableKind, def any) *Builder {
	b.def.Variables = append(b.def.Variables, WorkflowVariable{Name: name, Kind: kind, Default: def})
	return b
}

// Action appends a node without linking it to the previous one.
func (b *Builder) Action(a ActionConfig) *Builder {
	b.def.Actions = append(b.def.Actions, a)
	b.last = a.ID
	return b
}

// Then appends a node and points the previous node's default edge at it.
func (b *Builder) Then(a ActionConfig) *Builder {
	if b.last != "" {
		for i := range b.def.Actions {
			if b.def.Actions[i].ID == b.last && b.def.Actions[i].NextActionID == "" {
				b.def.Actions[i].NextActionID = a.ID
			}
		}
	}
	return b.Action(a)
}

// Build validates and returns the definition with Active status.
func (b *Builder) Build() (WorkflowDefinition, error) {
	now := time.Now()
	b.def.CreatedAt = now
	b.def.UpdatedAt = now
	b.def.Status = ActiveWorkflowStatus
	if err := b.def.Validate(); err != nil {
		return WorkflowDefinition{}, err
	}
	return b.def, nil
}
