package sqlinline

const artifactColumns = `id::text, job_id::text, project_id::text, artifact_type, scene_index,
       coalesce(file_url, ''), metadata, created_at, updated_at`

// QUpsertArtifact writes into the (job, type, scene) slot; inserted is true
// when the slot did not exist before.
const QUpsertArtifact = `--sql dd941c95-4efc-488b-8b3c-80d7d987360f
insert into artifacts (id, job_id, project_id, artifact_type, scene_index, file_url, metadata, created_at, updated_at)
values ($1::uuid, $2::uuid, $3::uuid, $4::text, $5::int, nullif($6::text, ''), coalesce($7::jsonb, '{}'::jsonb), now(), now())
on conflict (job_id, artifact_type, (coalesce(scene_index, -1))) do update set
    file_url = excluded.file_url,
    metadata = excluded.metadata,
    updated_at = now()
returning id::text, created_at, updated_at, (xmax = 0) as inserted;
`

const QSelectArtifact = `--sql 2d9d4c31-7855-465d-a15b-76abdd512632
select ` + artifactColumns + `
from artifacts
where job_id = $1::uuid
  and artifact_type = $2::text
  and coalesce(scene_index, -1) = $3::int;
`

const QDeleteArtifact = `--sql 7de7a882-24ab-4298-90b4-4aac73232c31
delete from artifacts
where job_id = $1::uuid
  and artifact_type = $2::text
  and coalesce(scene_index, -1) = $3::int;
`

const QSelectArtifactsByJob = `--sql e01b1380-0e2c-47ea-9446-bd9d19599b9a
select ` + artifactColumns + `
from artifacts
where job_id = $1::uuid
order by created_at asc, artifact_type asc, coalesce(scene_index, -1) asc;
`

const QCountArtifactsByType = `--sql 5aaf40a9-c2cd-48ab-ae6d-97a968a4afb7
select count(*)
from artifacts
where job_id = $1::uuid
  and artifact_type = $2::text;
`

const QSelectArtifactsByType = `--sql 9dc47d5b-b783-41b4-908b-f8233ad85444
select ` + artifactColumns + `
from artifacts
where artifact_type = $1::text
order by created_at asc;
`

// QResolvePendingArtifact deletes a pending slot and writes its completed
// replacement in one statement. Nothing is written and no row is returned
// when the pending row was already gone.
const QResolvePendingArtifact = `--sql 3b0f6e1a-8c57-4f4e-9d0c-62a1f5b7c9e4
with removed as (
    delete from artifacts
    where job_id = $2::uuid
      and artifact_type = $8::text
      and coalesce(scene_index, -1) = $5::int
    returning 1
), saved as (
    insert into artifacts (id, job_id, project_id, artifact_type, scene_index, file_url, metadata, created_at, updated_at)
    select $1::uuid, $2::uuid, $3::uuid, $4::text, $5::int, nullif($6::text, ''), coalesce($7::jsonb, '{}'::jsonb), now(), now()
    where exists (select 1 from removed)
    on conflict (job_id, artifact_type, (coalesce(scene_index, -1))) do update set
        file_url = excluded.file_url,
        metadata = excluded.metadata,
        updated_at = now()
    returning id::text, created_at, updated_at
)
select saved.id, saved.created_at, saved.updated_at
from saved;
`
